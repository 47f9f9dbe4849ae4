package years

import (
	"context"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/agent"
	"tunesync/internal/report"
	"tunesync/internal/track"
)

// RestoreFromReleaseYear is the pre-pass before year resolution: a track
// whose year has drifted more than threshold years from its release_year
// gets the year written back from release_year. A drift of exactly the
// threshold is left alone; non-numeric values never trigger it. Returns the
// number of tracks restored.
func RestoreFromReleaseYear(
	ctx context.Context,
	client agent.Client,
	tracks []track.Track,
	threshold int,
	changes *report.Collector,
	dryRun bool,
) int {
	restored := 0
	for i := range tracks {
		t := &tracks[i]
		year := track.YearOf(t.Year)
		release := track.YearOf(t.ReleaseYear)
		if year == 0 || release == 0 {
			continue
		}
		diff := year - release
		if diff < 0 {
			diff = -diff
		}
		if diff <= threshold {
			continue
		}
		if !t.Editable() {
			continue
		}

		slog := log.WithFields(l.Fields{"id": t.ID, "year": t.Year, "release_year": t.ReleaseYear})
		if !dryRun {
			if err := client.UpdateProperty(ctx, t.ID, "year", t.ReleaseYear); err != nil {
				slog.WithField("err", err).Warn("year restore failed")
				changes.AddError(report.ChangeLogEntry{
					ChangeType: report.ChangeYearRestored,
					TrackID:    t.ID,
					Artist:     t.Artist,
					AlbumName:  t.Album,
					TrackName:  t.Name,
					OldValue:   t.Year,
					NewValue:   t.ReleaseYear,
					Field:      "year",
				})
				continue
			}
		}

		changes.Add(report.ChangeLogEntry{
			ChangeType: report.ChangeYearRestored,
			TrackID:    t.ID,
			Artist:     t.Artist,
			AlbumName:  t.Album,
			TrackName:  t.Name,
			OldValue:   t.Year,
			NewValue:   t.ReleaseYear,
			Field:      "year",
		})
		slog.Debug("year restored from release_year")
		t.Year = t.ReleaseYear
		restored++
	}
	return restored
}
