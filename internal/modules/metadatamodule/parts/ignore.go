package parts

import (
	"regexp"
	"strings"

	"github.com/medley-tv/medley/internal/fsprobe"
	"github.com/medley-tv/medley/internal/utils"
)

// systemDirNames are directories NAS appliances and desktop OSes scatter
// through media shares. Matching is case-sensitive where the producer is.
var systemDirNames = map[string]bool{
	"@eaDir":                    true, // Synology thumbnail cache
	"@Recycle":                  true,
	"#recycle":                  true,
	"lost+found":                true,
	"$RECYCLE.BIN":              true,
	"System Volume Information": true,
	".AppleDouble":              true,
	".Trash":                    true,
	".Trashes":                  true,
}

// sampleNameRe matches release sample clips by name token. Extras
// directories are deliberately not ignored here; the extras resolver owns
// them.
var sampleNameRe = regexp.MustCompile(`(?i)(^sample([ ._-]|$))|([ ._-]sample$)`)

// IsSampleName reports whether a video file name carries a sample token.
// Resolvers call this too since they receive hand-built entries in tests.
func IsSampleName(name, ext string) bool {
	base := strings.TrimSuffix(name, ext)
	return sampleNameRe.MatchString(base)
}

var tempExtensions = map[string]bool{
	".part":       true,
	".tmp":        true,
	".temp":       true,
	".crdownload": true,
	".download":   true,
	".!qb":        true,
}

// BuiltinIgnoreRules returns the stock traversal rules every scan uses.
// Plugins may register more.
func BuiltinIgnoreRules() []fsprobe.IgnoreRule {
	return []fsprobe.IgnoreRule{
		fsprobe.NewRule("dotfiles", func(entry fsprobe.Entry, _ string) bool {
			return strings.HasPrefix(entry.Name, ".")
		}),
		fsprobe.NewRule("system-dirs", func(entry fsprobe.Entry, _ string) bool {
			return entry.IsDir && systemDirNames[entry.Name]
		}),
		fsprobe.NewRule("sample-files", func(entry fsprobe.Entry, _ string) bool {
			if entry.IsDir || !utils.IsVideoFile(entry.Name) {
				return false
			}
			return IsSampleName(entry.Name, entry.Ext)
		}),
		fsprobe.NewRule("zero-byte-files", func(entry fsprobe.Entry, _ string) bool {
			return !entry.IsDir && entry.Exists && entry.Size == 0
		}),
		fsprobe.NewRule("temp-files", func(entry fsprobe.Entry, _ string) bool {
			return !entry.IsDir && tempExtensions[entry.Ext]
		}),
	}
}
