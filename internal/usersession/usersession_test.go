package usersession

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gotd/td/session"

	"telegram-story-bot/internal/config"
	"telegram-story-bot/internal/crypt"
)

func testCipher(t *testing.T) *crypt.Cipher {
	t.Helper()
	c, err := crypt.New(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{3}, 32)))
	if err != nil {
		t.Fatalf("crypt.New: %v", err)
	}
	return c
}

func TestFileStorageMissing(t *testing.T) {
	st := NewFileStorage(filepath.Join(t.TempDir(), "none.session"), nil)
	if _, err := st.LoadSession(context.Background()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("LoadSession error = %v, want session.ErrNotFound", err)
	}
}

func TestFileStoragePlain(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "user.session")
	st := NewFileStorage(path, nil)
	if err := st.StoreSession(ctx, []byte(`{"Version":1}`)); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}
	got, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if string(got) != `{"Version":1}` {
		t.Fatalf("LoadSession = %q", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("session file mode = %o, want 600", perm)
	}
}

func TestFileStorageEncrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "user.session")
	st := NewFileStorage(path, testCipher(t))
	secret := []byte(`{"Data":{"AuthKey":"secret"}}`)
	if err := st.StoreSession(ctx, secret); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(raw, []byte("secret")) {
		t.Fatal("session file holds plaintext")
	}
	got, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatalf("LoadSession = %q", got)
	}

	if _, err := NewFileStorage(path, nil).LoadSession(ctx); err != nil {
		t.Fatalf("plain read of sealed file: %v", err)
	}
	other, _ := crypt.New(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{4}, 32)))
	if _, err := NewFileStorage(path, other).LoadSession(ctx); err == nil {
		t.Fatal("wrong key decrypted the session")
	}
}

func telethonString() string {
	raw := make([]byte, 0, 263)
	raw = append(raw, 2)
	raw = append(raw, 149, 154, 167, 51)
	raw = binary.BigEndian.AppendUint16(raw, 443)
	raw = append(raw, bytes.Repeat([]byte{9}, 256)...)
	return "1" + base64.URLEncoding.EncodeToString(raw)
}

func TestFromString(t *testing.T) {
	ctx := context.Background()
	st, err := FromString(ctx, telethonString())
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	data, err := (&session.Loader{Storage: st}).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if data.DC != 2 {
		t.Fatalf("DC = %d, want 2", data.DC)
	}
	if len(data.AuthKey) != 256 {
		t.Fatalf("auth key length = %d", len(data.AuthKey))
	}

	if _, err := FromString(ctx, "2garbage"); err == nil {
		t.Fatal("unsupported string session accepted")
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "user.session")

	st, err := New(ctx, &config.Config{SessionFile: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := st.(*FileStorage); !ok {
		t.Fatalf("New returned %T, want *FileStorage", st)
	}

	if _, err := New(ctx, &config.Config{SessionFile: path, SessionKey: "short"}); err == nil {
		t.Fatal("invalid SESSION_KEY accepted")
	}

	st, err = New(ctx, &config.Config{SessionFile: path, StringSession: telethonString()})
	if err != nil {
		t.Fatalf("New with string session: %v", err)
	}
	if _, ok := st.(*session.StorageMemory); !ok {
		t.Fatalf("New returned %T, want *session.StorageMemory", st)
	}
}
