package analysis

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/cueprep/cueprep/internal/constants"
)

// tagInfo holds metadata read from a file's embedded tags. Zero fields mean
// the tag was absent; the analyzer falls back to filename heuristics or
// signal analysis.
type tagInfo struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Year     int
	BPM      float64
	Key      string
	Duration float64
}

// Artwork is an embedded cover image extracted from a file's tags.
type Artwork struct {
	MIME string
	Data []byte
}

// readTags extracts embedded metadata and cover art. Extensions without tag
// support return empty tags and no error.
func readTags(path string) (tagInfo, *Artwork, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtMP3:
		return readMP3(path)
	case constants.ExtFLAC:
		return readFLAC(path)
	default:
		return tagInfo{}, nil, nil
	}
}

func readMP3(path string) (tagInfo, *Artwork, error) {
	var t tagInfo

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return t, nil, fmt.Errorf("open id3 tag: %w", err)
	}
	defer tag.Close()

	t.Title = strings.TrimSpace(tag.Title())
	t.Artist = strings.TrimSpace(tag.Artist())
	t.Album = strings.TrimSpace(tag.Album())
	t.Genre = strings.TrimSpace(tag.Genre())
	t.Year = parseYear(tag.Year())
	if f := tag.GetTextFrame("TBPM"); f.Text != "" {
		if bpm, err := strconv.ParseFloat(strings.TrimSpace(f.Text), 64); err == nil && bpm > 0 {
			t.BPM = bpm
		}
	}
	if f := tag.GetTextFrame("TKEY"); f.Text != "" {
		t.Key = strings.TrimSpace(f.Text)
	}

	var art *Artwork
	for _, frame := range tag.GetFrames(tag.CommonID("Attached picture")) {
		pic, ok := frame.(id3v2.PictureFrame)
		if !ok {
			continue
		}
		art = &Artwork{MIME: pic.MimeType, Data: pic.Picture}
		if pic.PictureType == id3v2.PTFrontCover {
			break
		}
	}
	return t, art, nil
}

func readFLAC(path string) (tagInfo, *Artwork, error) {
	var t tagInfo

	f, err := flac.ParseFile(path)
	if err != nil {
		return t, nil, fmt.Errorf("parse flac: %w", err)
	}

	if si, err := f.GetStreamInfo(); err == nil && si.SampleRate > 0 {
		t.Duration = float64(si.SampleCount) / float64(si.SampleRate)
	}

	var art *Artwork
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}
			t.Title = vorbisField(cmt, flacvorbis.FIELD_TITLE)
			t.Artist = vorbisField(cmt, flacvorbis.FIELD_ARTIST)
			t.Album = vorbisField(cmt, flacvorbis.FIELD_ALBUM)
			t.Genre = vorbisField(cmt, flacvorbis.FIELD_GENRE)
			t.Year = parseYear(vorbisField(cmt, flacvorbis.FIELD_DATE))
			if v := vorbisField(cmt, "BPM"); v != "" {
				if bpm, err := strconv.ParseFloat(v, 64); err == nil && bpm > 0 {
					t.BPM = bpm
				}
			}
			if v := vorbisField(cmt, "INITIALKEY"); v != "" {
				t.Key = v
			} else if v := vorbisField(cmt, "KEY"); v != "" {
				t.Key = v
			}
		case flac.Picture:
			if art != nil {
				continue
			}
			pic, err := flacpicture.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}
			art = &Artwork{MIME: pic.MIME, Data: pic.ImageData}
		}
	}
	return t, art, nil
}

func vorbisField(cmt *flacvorbis.MetaDataBlockVorbisComment, field string) string {
	vals, err := cmt.Get(field)
	if err != nil || len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// parseYear accepts bare years and date strings like "2019-04-12".
func parseYear(s string) int {
	s = strings.TrimSpace(s)
	if len(s) >= 4 {
		if y, err := strconv.Atoi(s[:4]); err == nil && y > 0 {
			return y
		}
	}
	if y, err := strconv.Atoi(s); err == nil && y > 0 {
		return y
	}
	return 0
}
