package sidecar

import (
	"strings"

	"github.com/medley-tv/medley/internal/modules/metadatamodule/parts"
)

// MergeResults folds several sidecar results into one, in order. Patch
// fields and hints are right-biased; people, groups, genres, and tags are
// unioned. Nil results are skipped, and all-nil input yields nil.
func MergeResults(results ...*parts.SidecarResult) *parts.SidecarResult {
	var out *parts.SidecarResult
	var sources []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if out == nil {
			out = &parts.SidecarResult{}
		}
		if r.Patch != nil {
			if out.Patch == nil {
				out.Patch = &parts.ItemPatch{}
			}
			out.Patch.Overlay(r.Patch)
		}
		if len(r.Hints) > 0 {
			if out.Hints == nil {
				out.Hints = make(map[string]string, len(r.Hints))
			}
			for k, v := range r.Hints {
				out.Hints[k] = v
			}
		}
		out.People = appendPeople(out.People, r.People)
		out.Groups = appendGroups(out.Groups, r.Groups)
		out.Genres = appendUnique(out.Genres, r.Genres)
		out.Tags = appendUnique(out.Tags, r.Tags)
		if r.Source != "" {
			sources = appendUnique(sources, []string{r.Source})
		}
	}
	if out != nil {
		out.Source = strings.Join(sources, "+")
	}
	return out
}

func appendPeople(dst, add []parts.PersonRef) []parts.PersonRef {
	for _, p := range add {
		if p.Name == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if strings.EqualFold(have.Name, p.Name) && have.Role == p.Role {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, p)
		}
	}
	return dst
}

func appendGroups(dst, add []parts.GroupRef) []parts.GroupRef {
	for _, g := range add {
		if g.Name == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if strings.EqualFold(have.Name, g.Name) && have.Role == g.Role {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, g)
		}
	}
	return dst
}

func appendUnique(dst, add []string) []string {
	for _, s := range add {
		if s == "" {
			continue
		}
		found := false
		for _, have := range dst {
			if strings.EqualFold(have, s) {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}
