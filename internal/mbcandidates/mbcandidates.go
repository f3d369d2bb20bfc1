// Package mbcandidates adapts pkg/musicbrainz into the
// variants.CandidateSearcher capability: turning a release-group search
// into scored CandidateState matches.
package mbcandidates

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/pkg/musicbrainz"
)

// Searcher implements variants.CandidateSearcher against the MusicBrainz
// API, scoring results by normalized string distance against the query
// since the corpus carries no fuzzy-match library (DESIGN.md).
type Searcher struct {
	client *musicbrainz.Client
}

// New wraps an existing rate-limited MusicBrainz client.
func New(client *musicbrainz.Client) *Searcher {
	return &Searcher{client: client}
}

// Search looks up release groups matching artist/album and fetches each
// searchID directly as a release-group MBID (ids that fail the lookup are
// logged and skipped) — mirroring
// ImportChosen's "explicit candidate id" path but at lookup time instead
// of choice time (§4.B lookup_candidates, §4.E AddCandidates search_ids).
func (s *Searcher) Search(ctx context.Context, artist, album string, searchIDs []string) ([]*importstate.CandidateState, error) {
	var candidates []*importstate.CandidateState

	for _, id := range searchIDs {
		c, err := s.byMbid(ctx, id)
		if err != nil {
			slog.Warn("mbcandidates: lookup by id failed", "mbid", id, "err", err)
			continue
		}
		if c != nil {
			candidates = append(candidates, c)
		}
	}

	if artist == "" && album == "" {
		return candidates, nil
	}

	resp, err := s.client.SearchReleaseGroup(ctx, album, artist)
	if err != nil {
		return nil, fmt.Errorf("mbcandidates: search release group: %w", err)
	}
	for _, rg := range resp.ReleaseGroups {
		candidates = append(candidates, releaseGroupCandidate(rg, artist, album))
	}
	return candidates, nil
}

func (s *Searcher) byMbid(ctx context.Context, mbid string) (*importstate.CandidateState, error) {
	rg, err := s.client.GetReleaseGroup(ctx, mbid)
	if err != nil {
		return nil, err
	}
	return releaseGroupCandidate(*rg, "", ""), nil
}

func releaseGroupCandidate(rg musicbrainz.ReleaseGroupResult, queryArtist, queryAlbum string) *importstate.CandidateState {
	year, _ := strconv.Atoi(firstFour(rg.FirstRelease))
	label := ""
	if len(rg.Releases) > 0 && len(rg.Releases[0].LabelInfo) > 0 {
		label = rg.Releases[0].LabelInfo[0].Label.Name
	}
	return &importstate.CandidateState{
		ID:   rg.ID,
		Type: importstate.MatchAlbum,
		Album: importstate.AlbumInfo{
			AlbumID: rg.ID,
			Album:   rg.Title,
			Artist:  queryArtist,
			Year:    year,
			Label:   label,
		},
		Distance: normalizedDistance(queryArtist+" "+queryAlbum, queryArtist+" "+rg.Title),
	}
}

func firstFour(date string) string {
	if len(date) < 4 {
		return ""
	}
	return date[:4]
}

// normalizedDistance scores two strings in [0, 1] using Levenshtein edit
// distance over the longer string's length, matching the spec's
// "lower is better" CandidateState.distance convention (§3). Ignores case
// and leading/trailing whitespace (inner whitespace still counts) since tag
// metadata and MusicBrainz titles differ in casing far more often than in
// substance.
func normalizedDistance(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 0
	}
	d := levenshtein(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return float64(d) / float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
