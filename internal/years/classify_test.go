package years

import (
	"testing"

	"tunesync/internal/config"
)

func testClassifier() *Classifier {
	return NewClassifier(config.Default().SpecialAlbums)
}

func TestClassify(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		album string
		want  AlbumType
	}{
		{"Plain Album", TypeNormal},
		{"Demo Vault: Wasteland", TypeSpecial},
		{"B-Sides and Rarities", TypeSpecial},
		{"The B Sides", TypeSpecial}, // hyphen/space normalisation
		{"Greatest Hits", TypeCompilation},
		{"Movie Soundtrack", TypeCompilation},
		{"Album (Remastered)", TypeReissue},
		{"20th Anniversary Edition", TypeReissue},
		{"Greatest Hits (Remastered)", TypeCompilation}, // compilation wins
		{"Demolition", TypeNormal},                      // word boundary: no "demo" inside
		{"DEMOS", TypeSpecial},                          // case-insensitive
	}
	for _, tt := range tests {
		t.Run(tt.album, func(t *testing.T) {
			if got := c.Classify(tt.album); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.album, got, tt.want)
			}
		})
	}
}

func TestAlbumTypeAction(t *testing.T) {
	tests := []struct {
		typ  AlbumType
		want Action
	}{
		{TypeNormal, ActionNormal},
		{TypeSpecial, ActionMarkAndSkip},
		{TypeCompilation, ActionMarkAndSkip},
		{TypeReissue, ActionMarkAndUpdate},
	}
	for _, tt := range tests {
		if got := tt.typ.Action(); got != tt.want {
			t.Errorf("%v.Action() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestClassifyMultiWordPattern(t *testing.T) {
	c := testClassifier()
	if got := c.Classify("The Very Best Of Someone"); got != TypeCompilation {
		t.Errorf("Classify() = %v, want compilation for 'best of'", got)
	}
	// "of best" reversed must not match the "best of" sequence.
	if got := c.Classify("Out Of Best Intentions"); got != TypeNormal {
		t.Errorf("Classify() = %v, want normal", got)
	}
}
