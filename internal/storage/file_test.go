package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/jittakal/actionstore/internal/errors"
	"github.com/jittakal/actionstore/pkg/storage"
)

func TestNewFileStore(t *testing.T) {
	tests := []struct {
		name    string
		config  FileConfig
		wantErr bool
	}{
		{"creates base path", FileConfig{BasePath: filepath.Join(t.TempDir(), "a", "b"), CreateBasePath: true}, false},
		{"existing base path", FileConfig{BasePath: t.TempDir()}, false},
		{"empty base path", FileConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewFileStore(tt.config, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFileStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				defer store.Close()
				if store.Name() != "file" {
					t.Errorf("Name() = %s, want file", store.Name())
				}
			}
		})
	}
}

func TestFileStore_Put(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileStore(FileConfig{BasePath: base}, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	key := "user-actions/year=2024/month=01/day=02/hour=03/batch-1-1-abcdef01"
	body := []byte(`{"ok":true}`)
	if err := store.Put(context.Background(), key, body, storage.ObjectMeta{ContentType: "application/json"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("object = %s, want %s", got, body)
	}

	entries, _ := os.ReadDir(filepath.Dir(filepath.Join(base, filepath.FromSlash(key))))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (no temp files left)", len(entries))
	}
}

func TestFileStore_Put_TargetMissing(t *testing.T) {
	base := filepath.Join(t.TempDir(), "gone")
	store, err := NewFileStore(FileConfig{BasePath: base, CreateBasePath: true}, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := os.RemoveAll(base); err != nil {
		t.Fatal(err)
	}

	err = store.Put(context.Background(), "k/v", []byte("x"), storage.ObjectMeta{})
	if got := apperrors.KindOf(err); got != apperrors.KindTargetMissing {
		t.Errorf("KindOf = %s, want %s (err = %v)", got, apperrors.KindTargetMissing, err)
	}
	if apperrors.IsRetryable(err) {
		t.Error("target missing must not be retryable")
	}
}

func TestFileStore_Put_Closed(t *testing.T) {
	store, err := NewFileStore(FileConfig{BasePath: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	err = store.Put(context.Background(), "k", []byte("x"), storage.ObjectMeta{})
	if !errors.Is(err, apperrors.ErrStoreClosed) {
		t.Errorf("error = %v, want ErrStoreClosed", err)
	}
}
