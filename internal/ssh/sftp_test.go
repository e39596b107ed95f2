package ssh

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/pkg/sftp"
)

// pipeSession connects a Session to an in-memory SFTP request server.
func pipeSession(t *testing.T, h sftp.Handlers) *Session {
	t.Helper()
	toServer, fromClient := io.Pipe()
	toClient, fromServer := io.Pipe()
	srv := sftp.NewRequestServer(struct {
		io.Reader
		io.WriteCloser
	}{toServer, fromServer}, h)
	go srv.Serve()

	client, err := sftp.NewClientPipe(toClient, fromClient)
	if err != nil {
		t.Fatalf("sftp client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return &Session{sf: client}
}

type closeFailWriter struct{}

func (closeFailWriter) Filewrite(*sftp.Request) (io.WriterAt, error) { return failingFile{}, nil }

type failingFile struct{}

func (failingFile) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (failingFile) Close() error                             { return errors.New("disk full") }

func TestSessionWriteFile(t *testing.T) {
	sess := pipeSession(t, sftp.InMemHandler())
	if err := sess.WriteFile("/runs/a/config.sin", []byte("seed: 1\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := sess.sf.Open("/runs/a/config.sin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "seed: 1\n" {
		t.Errorf("remote content = %q", data)
	}
}

func TestSessionWriteFileReportsCloseError(t *testing.T) {
	h := sftp.InMemHandler()
	h.FilePut = closeFailWriter{}
	sess := pipeSession(t, h)

	err := sess.WriteFile("/runs/a/config.sin", []byte("seed: 1\n"))
	if err == nil {
		t.Fatal("expected the failed close to be reported")
	}
	if !strings.Contains(err.Error(), "close remote") {
		t.Errorf("error = %v", err)
	}
}
