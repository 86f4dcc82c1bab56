package encryption

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"filippo.io/age"

	"dbcfg/internal/config"
)

func newTestAgeSealer(t *testing.T, recipients ...string) *AgeSealer {
	t.Helper()
	dir := t.TempDir()
	return NewAgeSealer(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "dbcfg.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "dbcfg.key"),
		Recipients:     recipients,
	})
}

func TestAgeSealer_IsConfigured(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t)
	if s.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
	if err := s.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !s.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}
}

func TestAgeSealer_SetupRejectsEmptyPassphrase(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t)
	if err := s.Setup(""); err == nil {
		t.Error("Setup(\"\") should return error")
	}
}

func TestAgeSealer_SealUnsealRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "manifest", input: []byte("name = \"sales\"\n[settings]\nRecoveryModel = \"SIMPLE\"\n")},
		{name: "empty", input: []byte{}},
		{name: "large", input: bytes.Repeat([]byte("filegroup"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestAgeSealer(t)
			if err := s.Setup("pass"); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			var sealed bytes.Buffer
			if err := s.Seal(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Bytes(), tt.input) {
				t.Error("sealed output contains the plaintext")
			}

			u, err := s.Unlock("pass")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var opened bytes.Buffer
			if err := u.Unseal(&sealed, &opened); err != nil {
				t.Fatalf("Unseal() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("round trip: got %d bytes, want %d", opened.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeSealer_ExtraRecipientCanOpen(t *testing.T) {
	t.Parallel()

	recovery, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity() error = %v", err)
	}
	s := newTestAgeSealer(t, recovery.Recipient().String())
	if err := s.Setup("pass"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	var sealed bytes.Buffer
	if err := s.Seal(bytes.NewReader([]byte("snapshot")), &sealed); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	r, err := age.Decrypt(&sealed, recovery)
	if err != nil {
		t.Fatalf("Decrypt() with recovery key error = %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "snapshot" {
		t.Errorf("recovered %q, want %q", got, "snapshot")
	}
}

func TestAgeSealer_InvalidRecipient(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t, "not-a-key")
	if err := s.Setup("pass"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	var sealed bytes.Buffer
	if err := s.Seal(bytes.NewReader([]byte("x")), &sealed); err == nil {
		t.Error("Seal() with an invalid recipient should return error")
	}
}

func TestAgeSealer_Errors(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		t.Parallel()
		s := newTestAgeSealer(t)
		if err := s.Setup("right"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := s.Unlock("wrong"); err == nil {
			t.Error("Unlock() with wrong passphrase should return error")
		}
	})

	t.Run("seal before setup", func(t *testing.T) {
		t.Parallel()
		s := newTestAgeSealer(t)
		var buf bytes.Buffer
		if err := s.Seal(bytes.NewReader([]byte("x")), &buf); err == nil {
			t.Error("Seal() before Setup should return error")
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		t.Parallel()
		s := newTestAgeSealer(t)
		if _, err := s.Unlock("pass"); err == nil {
			t.Error("Unlock() before Setup should return error")
		}
	})
}
