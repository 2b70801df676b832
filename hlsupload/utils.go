package hlsupload

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
)

var segmentNameRegex = regexp.MustCompile(`^(.*)-([0-9]+)\.ts$`)

func parseSegmentName(segmentName string) (int, bool) {
	matches := segmentNameRegex.FindStringSubmatch(segmentName)

	if len(matches) != 3 || matches[1] != segmentPrefix {
		return 0, false
	}

	index, err := strconv.Atoi(matches[2])
	if err != nil {
		return 0, false
	}

	return index, true
}

// remoteSegmentName is the object name of a segment; unpadded decimal,
// matching the URIs written into published playlists.
func remoteSegmentName(sequence int) string {
	return fmt.Sprintf("%s-%d.ts", segmentPrefix, sequence)
}

func mediaKey(mediaUploadPath, ownerSubpath, movieID string, sequence int) string {
	return path.Join(mediaUploadPath, ownerSubpath, movieID, remoteSegmentName(sequence))
}

func playlistKey(playlistUploadPath, ownerSubpath, movieID, name string) string {
	return path.Join(playlistUploadPath, ownerSubpath, movieID, name)
}

func segmentURI(websiteDomain, mediaUploadPath, ownerSubpath, movieID string, sequence int) string {
	return "https://" + path.Join(websiteDomain, mediaKey(mediaUploadPath, ownerSubpath, movieID, sequence))
}
