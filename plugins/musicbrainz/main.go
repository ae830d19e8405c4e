// Command musicbrainz is a metadata agent plugin that enriches albums
// and tracks from musicbrainz.org. Build it and drop the binary next to
// plugin.cue under the server's plugin directory.
package main

import (
	plugins "github.com/medley-tv/medley/sdk"
)

func main() {
	plugins.Serve(newAgent())
}
