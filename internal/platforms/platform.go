package platforms

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a streaming service in its canonical form.
type Key string

const (
	KeySpotify      Key = "spotify"
	KeyAppleMusic   Key = "appleMusic"
	KeyYouTubeMusic Key = "youtubeMusic"
	KeyYouTube      Key = "youtube"
	KeyDeezer       Key = "deezer"
	KeySoundCloud   Key = "soundcloud"
	KeyTidal        Key = "tidal"
	KeyAmazonMusic  Key = "amazonMusic"
	KeyBandcamp     Key = "bandcamp"
)

const (
	genericColor    = "#666666"
	genericIcon     = "/assets/images/platforms/png/picto_generic.png"
	unrankedOrdinal = 1 << 20
)

var (
	// ErrMissingName indicates a platform entry without a display name.
	ErrMissingName = errors.New("platforms: display name required")
	// ErrInvalidURL indicates a platform entry whose target URL cannot be parsed as absolute.
	ErrInvalidURL = errors.New("platforms: invalid target url")
)

// Descriptor holds the static display metadata for a canonical key.
type Descriptor struct {
	Key      Key
	Name     string
	Color    string
	Icon     string
	Priority int
}

var descriptors = map[Key]Descriptor{
	KeySpotify:      {Key: KeySpotify, Name: "Spotify", Color: "#1DB954", Icon: iconPath("spotify"), Priority: 1},
	KeyAppleMusic:   {Key: KeyAppleMusic, Name: "Apple Music", Color: "#FA243C", Icon: iconPath("apple"), Priority: 2},
	KeyYouTubeMusic: {Key: KeyYouTubeMusic, Name: "YouTube Music", Color: "#FF0000", Icon: iconPath("youtubemusic"), Priority: 3},
	KeyYouTube:      {Key: KeyYouTube, Name: "YouTube", Color: "#FF0000", Icon: iconPath("youtubemusic"), Priority: 4},
	KeyDeezer:       {Key: KeyDeezer, Name: "Deezer", Color: "#FF6600", Icon: iconPath("deezer"), Priority: 5},
	KeySoundCloud:   {Key: KeySoundCloud, Name: "SoundCloud", Color: "#FF5500", Icon: iconPath("soundcloud"), Priority: 6},
	KeyTidal:        {Key: KeyTidal, Name: "Tidal", Color: "#000000", Icon: iconPath("tidal"), Priority: 7},
	KeyAmazonMusic:  {Key: KeyAmazonMusic, Name: "Amazon Music", Color: "#FF9900", Icon: iconPath("amazon"), Priority: 8},
	KeyBandcamp:     {Key: KeyBandcamp, Name: "Bandcamp", Color: "#629AA0", Icon: iconPath("bandcamp"), Priority: 9},
}

// clickAliases maps normalized click keys (lowercase, no whitespace) to canonical keys.
var clickAliases = map[string]Key{
	"spotify":      KeySpotify,
	"apple":        KeyAppleMusic,
	"applemusic":   KeyAppleMusic,
	"youtubemusic": KeyYouTubeMusic,
	"youtube":      KeyYouTube,
	"deezer":       KeyDeezer,
	"soundcloud":   KeySoundCloud,
	"tidal":        KeyTidal,
	"amazon":       KeyAmazonMusic,
	"amazonmusic":  KeyAmazonMusic,
	"bandcamp":     KeyBandcamp,
}

func iconPath(slug string) string {
	return "/assets/images/platforms/png/picto_" + slug + ".png"
}

// Platform is a single per-service link embedded in a SmartLink.
type Platform struct {
	Key                 Key    `json:"platform"`
	Name                string `json:"name"`
	Color               string `json:"color,omitempty"`
	Icon                string `json:"icon,omitempty"`
	URL                 string `json:"url"`
	NativeAppURIMobile  string `json:"nativeAppUriMobile,omitempty"`
	NativeAppURIDesktop string `json:"nativeAppUriDesktop,omitempty"`
}

// Lookup returns the descriptor for a canonical key.
func Lookup(key Key) (Descriptor, bool) {
	descriptor, ok := descriptors[key]
	return descriptor, ok
}

// Describe returns the descriptor for key, falling back to a generic rendering for unknown keys.
func Describe(key Key) Descriptor {
	if descriptor, ok := descriptors[key]; ok {
		return descriptor
	}
	name := strings.TrimSpace(string(key))
	return Descriptor{Key: key, Name: name, Color: genericColor, Icon: genericIcon, Priority: unrankedOrdinal}
}

// Known reports whether key belongs to the canonical enumeration.
func Known(key Key) bool {
	_, ok := descriptors[key]
	return ok
}

// Keys returns the canonical keys in priority order.
func Keys() []Key {
	keys := make([]Key, 0, len(descriptors))
	for key := range descriptors {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return descriptors[keys[i]].Priority < descriptors[keys[j]].Priority
	})
	return keys
}

// FromUpstream builds a Platform from an aggregation API link entry.
// It reports false for keys outside the canonical table and for entries without a URL.
func FromUpstream(rawKey, targetURL, nativeMobile, nativeDesktop string) (Platform, bool) {
	descriptor, ok := descriptors[Key(rawKey)]
	if !ok {
		return Platform{}, false
	}
	if strings.TrimSpace(targetURL) == "" {
		return Platform{}, false
	}
	return Platform{
		Key:                 descriptor.Key,
		Name:                descriptor.Name,
		Color:               descriptor.Color,
		Icon:                descriptor.Icon,
		URL:                 targetURL,
		NativeAppURIMobile:  nativeMobile,
		NativeAppURIDesktop: nativeDesktop,
	}, true
}

// SortByPriority orders platforms by the fixed ranking, keeping input order among equals.
func SortByPriority(entries []Platform) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Describe(entries[i].Key).Priority < Describe(entries[j].Key).Priority
	})
}

// NormalizeClickKey maps a free-form click key onto the canonical enumeration.
func NormalizeClickKey(raw string) (Key, bool) {
	compact := strings.Join(strings.Fields(strings.ToLower(raw)), "")
	key, ok := clickAliases[compact]
	return key, ok
}

// Normalize fills display metadata from the lookup table and validates each entry.
func Normalize(entries []Platform) ([]Platform, error) {
	normalized := make([]Platform, 0, len(entries))
	for index, entry := range entries {
		entry.URL = strings.TrimSpace(entry.URL)
		descriptor := Describe(entry.Key)
		if strings.TrimSpace(entry.Name) == "" {
			entry.Name = descriptor.Name
		}
		if entry.Color == "" {
			entry.Color = descriptor.Color
		}
		if entry.Icon == "" {
			entry.Icon = descriptor.Icon
		}
		if strings.TrimSpace(entry.Name) == "" {
			return nil, fmt.Errorf("%w: entry %d", ErrMissingName, index)
		}
		parsed, err := url.Parse(entry.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("%w: entry %d", ErrInvalidURL, index)
		}
		normalized = append(normalized, entry)
	}
	return normalized, nil
}
