package aot

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/colorfulnotion/hybridvm/log"
)

var imageKeyPrefix = []byte("aotimg:")

// Store persists AOT images in LevelDB, keyed by name.
// Thread-safe: LevelDB handles its own synchronization.
type Store struct {
	db *leveldb.DB
}

// NewStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewStore(path string) (*Store, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		memStorage := leveldbstorage.NewMemStorage()
		db, err = leveldb.Open(memStorage, nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open image store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewMemoryStore creates an in-memory Store for testing.
func NewMemoryStore() (*Store, error) {
	return NewStore("")
}

func imageKey(name string) []byte {
	return append(append([]byte{}, imageKeyPrefix...), name...)
}

// SaveImage writes an encoded image under the given name.
func (s *Store) SaveImage(name string, img *Image) error {
	data := img.Encode()
	if err := s.db.Put(imageKey(name), data, nil); err != nil {
		return fmt.Errorf("save image %q: %w", name, err)
	}
	log.Debug(log.AotMonitoring, "saved image", "name", name, "sections", len(img.Sections), "bytes", len(data))
	return nil
}

// LoadImage reads and validates an image. Returns (nil, false, nil) if the
// name is unknown; a stored-but-invalid image is an error, never a silent
// partial load.
func (s *Store) LoadImage(name string) (*Image, bool, error) {
	data, err := s.db.Get(imageKey(name), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load image %q: %w", name, err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("image %q: %w", name, err)
	}
	return img, true, nil
}

// DeleteImage removes a stored image.
func (s *Store) DeleteImage(name string) error {
	return s.db.Delete(imageKey(name), nil)
}

// ListImages returns the names of all stored images in key order.
func (s *Store) ListImages() ([]string, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var names []string
	for ok := iter.Seek(imageKeyPrefix); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(imageKeyPrefix) || string(key[:len(imageKeyPrefix)]) != string(imageKeyPrefix) {
			break
		}
		names = append(names, string(key[len(imageKeyPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return names, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
