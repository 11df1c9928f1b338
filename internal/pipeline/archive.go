package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"intake/internal/config"
	"intake/internal/fileutil"
	"intake/internal/services"
)

const maxArchiveSuffix = 999

// archivePath returns a free destination under <root>/<archiveDir> that
// mirrors rel's parent folders. Collisions get "-000" through "-999" before
// the extension.
func archivePath(root, archiveDir, rel string) (string, error) {
	if archiveDir == "" {
		archiveDir = config.DefaultArchiveDir
	}
	rel = filepath.FromSlash(rel)
	dir := filepath.Join(root, filepath.FromSlash(archiveDir), filepath.Dir(rel))
	name := filepath.Base(rel)

	dest := filepath.Join(dir, name)
	if !fileutil.Exists(dest) {
		return dest, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i <= maxArchiveSuffix; i++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s-%03d%s", stem, i, ext))
		if !fileutil.Exists(dest) {
			return dest, nil
		}
	}
	return "", services.Wrap(services.ErrArchive, "archive", "unique name",
		fmt.Sprintf("archive suffix exhausted for %s (max -%03d)", name, maxArchiveSuffix), nil)
}

// archiveFile moves src into the archive and returns where it landed.
func archiveFile(root, archiveDir, rel, src string) (string, error) {
	dest, err := archivePath(root, archiveDir, rel)
	if err != nil {
		return "", err
	}
	if err := fileutil.MoveFile(src, dest); err != nil {
		return "", services.Wrap(services.ErrArchive, "archive", "move", dest, err)
	}
	return dest, nil
}
