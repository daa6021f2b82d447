// Package version carries Cipher's build identity, set at link time via
// -ldflags, and the startup banner printed at boot.
package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/xdien/cipher/theme"
)

var (
	Name        = "cipher"
	Description = "Connection Fleet Supervisor"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
)

const (
	GithubHomeText = "github.com/xdien/cipher"
	GithubHomeURI  = "https://github.com/xdien/cipher"
)

// PrintVersionInfo writes the startup banner. extendedInfo additionally
// prints commit/build metadata, used by the --version flag.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubLink := theme.Hyperlink(GithubHomeURI, GithubHomeText)

	var b strings.Builder
	b.WriteString(theme.ColourSplash(fmt.Sprintf("── %s — %s ──\n", strings.ToUpper(Name), Description)))
	b.WriteString(theme.ColourVersion(Version))
	b.WriteString("  ")
	b.WriteString(githubLink)

	if extendedInfo {
		b.WriteString(fmt.Sprintf("\n Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
	}

	vlog.Println(b.String())
}
