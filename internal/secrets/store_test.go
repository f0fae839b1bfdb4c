package secrets

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(openTestDB(t), testCipher(t))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSetGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "proj_a", "API", "tvly-123"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "proj_a", "API")
	if err != nil {
		t.Fatal(err)
	}
	if got != "tvly-123" {
		t.Errorf("got %q, want tvly-123", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "proj_a", "NOPE")
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeSecretNotFound {
		t.Fatalf("code = %s, want SECRET_NOT_FOUND", got)
	}
}

func TestSetUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "proj_a", "API", "first"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "proj_a", "API", "second"); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "proj_a", "API")
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Errorf("got %q, want second", got)
	}
}

func TestProjectIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "proj_a", "API", "a-value"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "proj_b", "API"); nexuserr.CodeOf(err) != nexuserr.CodeSecretNotFound {
		t.Error("project b must not see project a's secret")
	}
}

func TestTamperedCiphertextFailsDecrypt(t *testing.T) {
	db := openTestDB(t)
	store, err := NewStore(db, testCipher(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Set(ctx, "proj_a", "API", "tvly-123"); err != nil {
		t.Fatal(err)
	}

	// Flip one hex digit of the stored ciphertext.
	var ct string
	if err := db.QueryRow(`SELECT encrypted_value FROM secrets WHERE key = 'API'`).Scan(&ct); err != nil {
		t.Fatal(err)
	}
	flipped := []byte(ct)
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}
	if _, err := db.Exec(`UPDATE secrets SET encrypted_value = ? WHERE key = 'API'`, string(flipped)); err != nil {
		t.Fatal(err)
	}

	_, err = store.Get(ctx, "proj_a", "API")
	if got := nexuserr.CodeOf(err); got != nexuserr.CodeSecretDecryptFailed {
		t.Fatalf("code = %s, want SECRET_DECRYPT_FAILED", got)
	}
}

func TestTamperedAuthTagFailsDecrypt(t *testing.T) {
	c := testCipher(t)
	sealed, err := c.Encrypt("payload")
	if err != nil {
		t.Fatal(err)
	}
	tag := []byte(sealed.AuthTag)
	if tag[0] == 'a' {
		tag[0] = 'b'
	} else {
		tag[0] = 'a'
	}
	sealed.AuthTag = string(tag)
	if _, err := c.Decrypt(sealed); nexuserr.CodeOf(err) != nexuserr.CodeSecretDecryptFailed {
		t.Fatal("tampered auth tag must fail decryption")
	}
}

func TestEncryptionsDiffer(t *testing.T) {
	c := testCipher(t)
	first, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Encrypt("same plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if first.Ciphertext == second.Ciphertext {
		t.Error("two encryptions of the same plaintext must differ")
	}
	if first.IV == second.IV {
		t.Error("IVs must be fresh per encryption")
	}
}

func TestListNeverIncludesValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.SetWithDescription(ctx, "proj_a", "API", "tvly-123", "search key"); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx, "proj_a")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d", len(list))
	}
	sec := list[0]
	if sec.Key != "API" || sec.Description != "search key" {
		t.Errorf("metadata = %+v", sec)
	}
	if sec.EncryptedValue != "" || sec.IV != "" || sec.AuthTag != "" {
		t.Error("list must not carry encrypted material")
	}
}

func TestDeleteAbsentReturnsFalse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Delete(ctx, "proj_a", "API")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("deleting an absent key should return false")
	}

	if err := store.Set(ctx, "proj_a", "API", "v"); err != nil {
		t.Fatal(err)
	}
	ok, err = store.Delete(ctx, "proj_a", "API")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("deleting an existing key should return true")
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"API", "MY_KEY_2", "A"}
	for _, key := range valid {
		if err := ValidateKey(key); err != nil {
			t.Errorf("ValidateKey(%q) = %v, want nil", key, err)
		}
	}
	invalid := []string{"", "lowercase", "WITH-DASH", "WITH SPACE", string(bytes.Repeat([]byte("A"), 129))}
	for _, key := range invalid {
		if err := ValidateKey(key); nexuserr.CodeOf(err) != nexuserr.CodeValidation {
			t.Errorf("ValidateKey(%q) should fail with VALIDATION_ERROR", key)
		}
	}
}

func TestCipherFromEnvValidation(t *testing.T) {
	t.Setenv(MasterKeyEnv, "")
	if _, err := CipherFromEnv(); nexuserr.CodeOf(err) != nexuserr.CodeConfig {
		t.Error("missing key must fail with CONFIG_ERROR")
	}

	t.Setenv(MasterKeyEnv, "abcd")
	if _, err := CipherFromEnv(); nexuserr.CodeOf(err) != nexuserr.CodeConfig {
		t.Error("short key must fail with CONFIG_ERROR")
	}

	t.Setenv(MasterKeyEnv, "zz"+string(bytes.Repeat([]byte("a"), 62)))
	if _, err := CipherFromEnv(); nexuserr.CodeOf(err) != nexuserr.CodeConfig {
		t.Error("non-hex key must fail with CONFIG_ERROR")
	}

	t.Setenv(MasterKeyEnv, string(bytes.Repeat([]byte("ab"), 32)))
	if _, err := CipherFromEnv(); err != nil {
		t.Errorf("valid 64-hex key rejected: %v", err)
	}
}
