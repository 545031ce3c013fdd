// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tags writes ID3v2 metadata into saved audio files.
package tags

import (
	"fmt"
	"strconv"

	"github.com/beastyrabbit/infinitune-sub001/internal/model"
	"github.com/bogem/id3v2/v2"
)

// Embed rewrites the ID3v2 tag of the file at path. cover may be nil;
// coverMIME is e.g. "image/png".
func Embed(path string, md *model.Metadata, album string, cover []byte, coverMIME string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return fmt.Errorf("tags: open %s: %w", path, err)
	}
	defer func() { _ = tag.Close() }()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(md.Title)
	tag.SetArtist(md.Artist)
	if album != "" {
		tag.SetAlbum(album)
	}
	if md.BPM > 0 {
		tag.AddTextFrame("TBPM", id3v2.EncodingUTF8, strconv.Itoa(md.BPM))
	}
	if md.Lyrics != "" {
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          "eng",
			ContentDescriptor: "",
			Lyrics:            md.Lyrics,
		})
	}
	if len(cover) > 0 {
		if coverMIME == "" {
			coverMIME = "image/png"
		}
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    coverMIME,
			PictureType: id3v2.PTFrontCover,
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("tags: save %s: %w", path, err)
	}
	return nil
}
