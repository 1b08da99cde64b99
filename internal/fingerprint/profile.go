package fingerprint

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/FranksOps/primp/pkg/useragent"
	utls "github.com/refraction-networking/utls"
)

// Profile names a browser whose TLS ClientHello and default headers are
// presented to servers.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS, no browser headers
	ProfileRandom  Profile = "random" // randomized uTLS hello, rotating UA

	ProfileChrome100   Profile = "chrome_100"
	ProfileChrome102   Profile = "chrome_102"
	ProfileChrome106   Profile = "chrome_106"
	ProfileChrome115   Profile = "chrome_115"
	ProfileChrome120   Profile = "chrome_120"
	ProfileChrome131   Profile = "chrome_131"
	ProfileChrome133   Profile = "chrome_133"
	ProfileEdge85      Profile = "edge_85"
	ProfileEdge106     Profile = "edge_106"
	ProfileFirefox102  Profile = "firefox_102"
	ProfileFirefox105  Profile = "firefox_105"
	ProfileFirefox120  Profile = "firefox_120"
	ProfileSafari16    Profile = "safari_16"
	ProfileSafariIOS   Profile = "safari_ios"
	ProfileSafariIOS13 Profile = "safari_ios_13"
	ProfileSafariIOS14 Profile = "safari_ios_14"
)

// OS is the platform a profile claims to run on.
type OS string

const (
	OSWindows OS = "windows"
	OSMacOS   OS = "macos"
	OSLinux   OS = "linux"
	OSAndroid OS = "android"
	OSIOS     OS = "ios"
)

// DefaultOS is used when a profile is chosen without an OS.
const DefaultOS = OSWindows

type profileSpec struct {
	browser useragent.Browser
	major   int
	hello   utls.ClientHelloID
	// pinned forces a platform regardless of the requested OS.
	pinned useragent.Platform
}

var registry = map[Profile]profileSpec{
	ProfileChrome:      {browser: useragent.Chrome, major: 133, hello: utls.HelloChrome_Auto},
	ProfileChrome100:   {browser: useragent.Chrome, major: 100, hello: utls.HelloChrome_100},
	ProfileChrome102:   {browser: useragent.Chrome, major: 102, hello: utls.HelloChrome_102},
	ProfileChrome106:   {browser: useragent.Chrome, major: 106, hello: utls.HelloChrome_106_Shuffle},
	ProfileChrome115:   {browser: useragent.Chrome, major: 115, hello: utls.HelloChrome_115_PQ},
	ProfileChrome120:   {browser: useragent.Chrome, major: 120, hello: utls.HelloChrome_120},
	ProfileChrome131:   {browser: useragent.Chrome, major: 131, hello: utls.HelloChrome_131},
	ProfileChrome133:   {browser: useragent.Chrome, major: 133, hello: utls.HelloChrome_133},
	ProfileEdge85:      {browser: useragent.Edge, major: 85, hello: utls.HelloEdge_85},
	ProfileEdge106:     {browser: useragent.Edge, major: 106, hello: utls.HelloEdge_106},
	ProfileFirefox:     {browser: useragent.Firefox, major: 120, hello: utls.HelloFirefox_Auto},
	ProfileFirefox102:  {browser: useragent.Firefox, major: 102, hello: utls.HelloFirefox_102},
	ProfileFirefox105:  {browser: useragent.Firefox, major: 105, hello: utls.HelloFirefox_105},
	ProfileFirefox120:  {browser: useragent.Firefox, major: 120, hello: utls.HelloFirefox_120},
	ProfileSafari:      {browser: useragent.Safari, major: 16, hello: utls.HelloSafari_Auto, pinned: useragent.MacOS},
	ProfileSafari16:    {browser: useragent.Safari, major: 16, hello: utls.HelloSafari_16_0, pinned: useragent.MacOS},
	ProfileSafariIOS:   {browser: useragent.Safari, major: 14, hello: utls.HelloIOS_Auto, pinned: useragent.IOS},
	ProfileSafariIOS13: {browser: useragent.Safari, major: 13, hello: utls.HelloIOS_13, pinned: useragent.IOS},
	ProfileSafariIOS14: {browser: useragent.Safari, major: 14, hello: utls.HelloIOS_14, pinned: useragent.IOS},
	ProfileRandom:      {hello: utls.HelloRandomizedALPN},
	ProfileGo:          {},
}

var osNames = map[OS]useragent.Platform{
	OSWindows: useragent.Windows,
	OSMacOS:   useragent.MacOS,
	OSLinux:   useragent.Linux,
	OSAndroid: useragent.Android,
	OSIOS:     useragent.IOS,
}

// ParseProfile matches s against the registry, ignoring case and surrounding
// space. Unknown names are an error; there is no fallback profile.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := registry[p]; !ok {
		return "", fmt.Errorf("context: unknown profile %q", s)
	}
	return p, nil
}

// ParseOS matches s against the known platforms. "" yields DefaultOS.
func ParseOS(s string) (OS, error) {
	o := OS(strings.ToLower(strings.TrimSpace(s)))
	if o == "" {
		return DefaultOS, nil
	}
	if _, ok := osNames[o]; !ok {
		return "", fmt.Errorf("context: unknown os %q", s)
	}
	return o, nil
}

// Profiles lists every registered profile name, sorted.
func Profiles() []Profile {
	out := make([]Profile, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Identity is a resolved profile: the hello to send and the headers a real
// browser of that kind attaches to a navigation request.
type Identity struct {
	Profile Profile
	OS      OS
	Hello   utls.ClientHelloID
	Headers http.Header
}

// Standard reports whether the identity uses Go's own TLS stack.
func (id Identity) Standard() bool {
	return id.Profile == ProfileGo
}

// Resolve builds the Identity for p on o. ua is consulted only by
// ProfileRandom and may be nil.
func Resolve(p Profile, o OS, ua *useragent.Pool) (Identity, error) {
	spec, ok := registry[p]
	if !ok {
		return Identity{}, fmt.Errorf("context: unknown profile %q", p)
	}
	if o == "" {
		o = DefaultOS
	}
	plat, ok := osNames[o]
	if !ok {
		return Identity{}, fmt.Errorf("context: unknown os %q", o)
	}
	if spec.pinned != "" {
		plat = spec.pinned
	}

	id := Identity{Profile: p, OS: o, Hello: spec.hello, Headers: make(http.Header)}
	switch p {
	case ProfileGo:
		return id, nil
	case ProfileRandom:
		if ua == nil {
			ua = useragent.NewPool(nil)
		}
		id.Headers.Set("User-Agent", ua.Random())
		id.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		id.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		id.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		return id, nil
	}

	h := id.Headers
	h.Set("User-Agent", useragent.For(spec.browser, spec.major, plat))
	switch spec.browser {
	case useragent.Chrome, useragent.Edge:
		brand := "Google Chrome"
		if spec.browser == useragent.Edge {
			brand = "Microsoft Edge"
		}
		v := strconv.Itoa(spec.major)
		h.Set("Sec-Ch-Ua", fmt.Sprintf(`"Chromium";v="%s", "%s";v="%s", "Not_A Brand";v="24"`, v, brand, v))
		mobile := "?0"
		if plat == useragent.Android || plat == useragent.IOS {
			mobile = "?1"
		}
		h.Set("Sec-Ch-Ua-Mobile", mobile)
		h.Set("Sec-Ch-Ua-Platform", `"`+platformLabel(plat)+`"`)
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
		h.Set("Accept-Language", "en-US,en;q=0.9")
		if spec.major >= 123 {
			h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
		} else {
			h.Set("Accept-Encoding", "gzip, deflate, br")
		}
	case useragent.Firefox:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		h.Set("Accept-Language", "en-US,en;q=0.5")
		h.Set("Accept-Encoding", "gzip, deflate, br")
	case useragent.Safari:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		h.Set("Accept-Language", "en-US,en;q=0.9")
		h.Set("Accept-Encoding", "gzip, deflate, br")
	}
	h.Set("Upgrade-Insecure-Requests", "1")
	return id, nil
}

func platformLabel(p useragent.Platform) string {
	switch p {
	case useragent.MacOS:
		return "macOS"
	case useragent.Linux:
		return "Linux"
	case useragent.Android:
		return "Android"
	case useragent.IOS:
		return "iOS"
	default:
		return "Windows"
	}
}
