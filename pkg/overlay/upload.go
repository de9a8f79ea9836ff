package overlay

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tinyland-inc/meshchat/pkg/logger"
	"github.com/tinyland-inc/meshchat/pkg/model"
)

const maxUploadBytes = 64 << 20

// handleUpload receives one media file as a multipart form and stores it
// under the media directory. The filename query parameter names the stored
// file; path separators are stripped and a missing name gets a random one.
func (n *Network) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.URL.Query().Get("filename"))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = uuid.New().String()
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(n.mediaDir, 0o755); err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	dst, err := os.Create(filepath.Join(n.mediaDir, name))
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	logger.InfoCF("overlay", "stored uploaded file", map[string]any{"filename": name})
	w.WriteHeader(http.StatusOK)
}

// pushFile uploads a local media file to the peer's upload endpoint as a
// multipart POST.
func (n *Network) pushFile(info model.PeerInfo, filename string) error {
	name := filepath.Base(filename)
	src, err := os.Open(filepath.Join(n.mediaDir, name))
	if err != nil {
		return fmt.Errorf("opening media file: %w", err)
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	target := fmt.Sprintf("http://%s/upload?filename=%s", info.Addr(), url.QueryEscape(name))
	resp, err := n.client.Post(target, mw.FormDataContentType(), pr)
	if err != nil {
		return fmt.Errorf("uploading to %s: %w", info.Addr(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("uploading to %s: status %s", info.Addr(), resp.Status)
	}
	return nil
}
