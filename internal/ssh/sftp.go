package ssh

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// Session wraps one SFTP client over an established SSH connection.
type Session struct {
	sf *sftp.Client
}

// OpenSFTP starts the SFTP subsystem on client.
func OpenSFTP(client *xssh.Client) (*Session, error) {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	return &Session{sf: sf}, nil
}

func (s *Session) Close() error { return s.sf.Close() }

// WriteFile creates remotePath with data, creating parent directories.
func (s *Session) WriteFile(remotePath string, data []byte) error {
	return s.copyTo(remotePath, bytes.NewReader(data))
}

// MkdirAll creates remoteDir and its parents.
func (s *Session) MkdirAll(remoteDir string) error {
	if err := s.sf.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	return nil
}

func (s *Session) copyTo(remotePath string, src io.Reader) error {
	if err := s.sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("mkdir remote: %w", err)
	}
	dst, err := s.sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close remote: %w", err)
	}
	return nil
}

// PullFile downloads a remote file to a local path.
func (s *Session) PullFile(remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir local: %w", err)
	}
	src, err := s.sf.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return dst.Close()
}

// PullDir downloads the regular files below remoteDir into localDir,
// keeping the relative layout. It returns the number of files copied.
func (s *Session) PullDir(remoteDir, localDir string) (int, error) {
	walker := s.sf.Walk(remoteDir)
	n := 0
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return n, fmt.Errorf("walk remote: %w", err)
		}
		if !walker.Stat().Mode().IsRegular() {
			continue
		}
		rel := strings.TrimPrefix(walker.Path(), strings.TrimSuffix(remoteDir, "/")+"/")
		if err := s.PullFile(walker.Path(), filepath.Join(localDir, filepath.FromSlash(rel))); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RemoveAll deletes remotePath and everything below it.
func (s *Session) RemoveAll(remotePath string) error {
	var dirs []string
	walker := s.sf.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return fmt.Errorf("walk remote: %w", err)
		}
		if walker.Stat().IsDir() {
			dirs = append(dirs, walker.Path())
			continue
		}
		if err := s.sf.Remove(walker.Path()); err != nil {
			return fmt.Errorf("remove remote %s: %w", walker.Path(), err)
		}
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := s.sf.RemoveDirectory(dirs[i]); err != nil {
			return fmt.Errorf("remove remote %s: %w", dirs[i], err)
		}
	}
	return nil
}
