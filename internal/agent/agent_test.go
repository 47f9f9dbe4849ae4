package agent

import (
	"context"
	"testing"

	"tunesync/internal/errs"
	"tunesync/internal/track"
)

func trackWithID(id string) track.Track {
	return track.Track{
		ID:     id,
		Name:   "Song " + id,
		Artist: "Artist",
		Album:  "Album",
	}
}

func TestTrackExists_RejectsNonNumericID(t *testing.T) {
	c := NewExecClient("true", t.TempDir(), 0, nil)

	_, err := c.TrackExists(context.Background(), "abc")
	if !errs.IsValidation(err) {
		t.Errorf("TrackExists(non-numeric) error = %v, want ValidationError", err)
	}
}

func TestFake_ScanPagination(t *testing.T) {
	fake := NewFake(trackWithID("1"), trackWithID("2"), trackWithID("3"))

	page, err := fake.ScanLibrary(context.Background(), ScanQuery{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "2" {
		t.Errorf("page = %+v, want single track 2", page)
	}

	past, err := fake.ScanLibrary(context.Background(), ScanQuery{Offset: 10, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(past) != 0 {
		t.Errorf("offset past end returned %d tracks", len(past))
	}
}

func TestFake_ExistsAndWrites(t *testing.T) {
	fake := NewFake(trackWithID("1"))
	fake.Missing["9"] = true

	ctx := context.Background()
	if ok, _ := fake.TrackExists(ctx, "1"); !ok {
		t.Error("known track reported absent")
	}
	if ok, _ := fake.TrackExists(ctx, "9"); ok {
		t.Error("missing track reported present")
	}

	if err := fake.BulkUpdateYear(ctx, []string{"1"}, "1999"); err != nil {
		t.Fatal(err)
	}
	if got := fake.Tracks()[0].Year; got != "1999" {
		t.Errorf("year after bulk update = %q, want 1999", got)
	}
	if len(fake.YearWrites) != 1 {
		t.Errorf("YearWrites = %d entries, want 1", len(fake.YearWrites))
	}
}
