package parts

// Hint keys shared between resolvers, sidecar parsers, and the persist
// stage. Hints ride along on drafts and sidecar results as plain strings;
// consumers parse what they understand and ignore the rest.
const (
	// HintSeasonNumber carries the season an episode belongs to, including
	// season 0 for specials. Set by the episode resolver whether or not a
	// season folder exists so the persist stage can synthesize the season.
	HintSeasonNumber = "season_number"

	// HintShowTitle carries the show folder title for episodes resolved
	// below it, used when remote agents look up the series.
	HintShowTitle = "show_title"

	// HintArtistName carries the artist folder name for album releases.
	// Artist folders never become items themselves.
	HintArtistName = "artist_name"

	// HintAlbumTitle and HintDiscNumber come from embedded audio tags and
	// refine what the folder layout already implied.
	HintAlbumTitle = "album_title"
	HintDiscNumber = "disc_number"

	// Artwork hints point at local image files discovered next to an item.
	// Values are absolute paths; the asset stage ingests them.
	HintArtworkPoster = "artwork_poster"
	HintArtworkFanart = "artwork_fanart"
	HintArtworkBanner = "artwork_banner"
	HintArtworkThumb  = "artwork_thumb"

	// HintEmbeddedArt marks a media file whose tags carry cover art. The
	// value is the media file path; the asset stage re-opens it to pull
	// the picture out.
	HintEmbeddedArt = "embedded_art"
)
