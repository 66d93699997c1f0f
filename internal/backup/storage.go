package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// RemoteStorage is the contract for non-local backup targets: upload the
// finished archive, fetch it back for restores, probe and delete it.
type RemoteStorage interface {
	Upload(localPath, remotePath string) error
	Download(remotePath, localPath string) error
	Exists(remotePath string) (bool, error)
	Delete(remotePath string) error
}

// DirStorage keeps remote archives under a root directory, typically a
// mounted network share or attached volume.
type DirStorage struct {
	Root string
}

func NewDirStorage(root string) (*DirStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("could not create remote storage root: %w", err)
	}
	return &DirStorage{Root: root}, nil
}

func (d *DirStorage) Upload(localPath, remotePath string) error {
	return copyFile(localPath, filepath.Join(d.Root, remotePath))
}

func (d *DirStorage) Download(remotePath, localPath string) error {
	return copyFile(filepath.Join(d.Root, remotePath), localPath)
}

func (d *DirStorage) Exists(remotePath string) (bool, error) {
	_, err := os.Stat(filepath.Join(d.Root, remotePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *DirStorage) Delete(remotePath string) error {
	err := os.Remove(filepath.Join(d.Root, remotePath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
