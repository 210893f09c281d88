package delivery

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/ROMARIC12/chatfull/internal/models"
)

var (
	errFileTooLarge = errors.New("file too large")
	errNotImage     = errors.New("avatar must be an image")
)

// Upload is one file received from a client.
type Upload struct {
	FileName    string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// MediaStore writes attachments under root/messages and avatars under
// root/profiles, and builds their public URLs.
type MediaStore struct {
	fs       afero.Fs
	root     string
	baseURL  string
	maxFiles int
	maxBytes int64
	now      func() time.Time
}

// NewMediaStore creates a media store on fs. Files are served under baseURL + "/uploads/".
func NewMediaStore(fs afero.Fs, root, baseURL string, maxFiles int, maxBytes int64) *MediaStore {
	return &MediaStore{
		fs:       fs,
		root:     root,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxFiles: maxFiles,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// MaxFiles is the number of files accepted per message.
func (s *MediaStore) MaxFiles() int { return s.maxFiles }

// MaxBytes is the size limit of one file.
func (s *MediaStore) MaxBytes() int64 { return s.maxBytes }

// FileSystem serves stored files, rooted at the upload directory.
func (s *MediaStore) FileSystem() http.FileSystem {
	return afero.NewHttpFs(afero.NewBasePathFs(s.fs, s.root))
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r == '/' || r < 32:
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// Save copies a message attachment to the store and describes it.
func (s *MediaStore) Save(u Upload) (models.Media, error) {
	return s.save("messages", u)
}

// SaveAvatar stores a profile picture. Anything but an image is rejected.
func (s *MediaStore) SaveAvatar(u Upload) (models.Media, error) {
	m, err := s.save("profiles", u)
	if err != nil {
		return models.Media{}, err
	}
	if m.Type != models.MediaImage {
		_ = s.Remove(m)
		return models.Media{}, errNotImage
	}
	return m, nil
}

func (s *MediaStore) save(folder string, u Upload) (models.Media, error) {
	dir := filepath.Join(s.root, folder)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return models.Media{}, err
	}

	base := sanitizeFileName(u.FileName)
	stamp := s.now().UnixMilli()
	name := fmt.Sprintf("%d-%s", stamp, base)
	for i := 1; ; i++ {
		exists, err := afero.Exists(s.fs, filepath.Join(dir, name))
		if err != nil {
			return models.Media{}, err
		}
		if !exists {
			break
		}
		name = fmt.Sprintf("%d-%d-%s", stamp, i, base)
	}
	key := path.Join(folder, name)
	full := filepath.Join(s.root, filepath.FromSlash(key))

	src, err := u.Open()
	if err != nil {
		return models.Media{}, err
	}
	defer src.Close()

	dst, err := s.fs.Create(full)
	if err != nil {
		return models.Media{}, err
	}
	written, err := io.Copy(dst, io.LimitReader(src, s.maxBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > s.maxBytes {
		err = errFileTooLarge
	}
	if err != nil {
		_ = s.fs.Remove(full)
		return models.Media{}, err
	}

	mimeType, err := s.detect(full, u.ContentType)
	if err != nil {
		_ = s.fs.Remove(full)
		return models.Media{}, err
	}

	return models.Media{
		Type:       models.MediaTypeFor(mimeType),
		URL:        s.baseURL + "/uploads/" + key,
		FileName:   u.FileName,
		FileSize:   written,
		MimeType:   mimeType,
		StorageKey: key,
	}, nil
}

// detect trusts a declared content type unless it is missing or generic.
func (s *MediaStore) detect(full, declared string) (string, error) {
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}
	f, err := s.fs.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()
	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// Remove deletes a stored attachment.
func (s *MediaStore) Remove(m models.Media) error {
	return s.fs.Remove(filepath.Join(s.root, filepath.FromSlash(m.StorageKey)))
}

// avatarKey maps an avatar URL back to its storage key. URLs this store did
// not issue, such as a default avatar, report false.
func (s *MediaStore) avatarKey(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/uploads/")
	if !ok || !strings.HasPrefix(key, "profiles/") || path.Clean(key) != key {
		return "", false
	}
	return key, true
}

// RemoveAvatar deletes a stored profile picture by its URL. Foreign URLs are ignored.
func (s *MediaStore) RemoveAvatar(url string) error {
	key, ok := s.avatarKey(url)
	if !ok {
		return nil
	}
	return s.Remove(models.Media{StorageKey: key})
}
