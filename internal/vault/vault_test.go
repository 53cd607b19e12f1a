package vault

import (
	"errors"
	"sort"
	"testing"
	"time"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	secrets := []string{
		testMnemonic,
		"T3VjvUKdmtrpuBJtSJNECCGhdaSKxQqPGgrm6oTHt2QJ42m6vpo9", // WIF shape
		"0000000000000000000000000000000000000000000000000000000000000001",
		"",
	}
	for _, secret := range secrets {
		sealed, err := Encrypt(secret, "correct horse")
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", secret, err)
		}
		if len(sealed.Salt) != SaltSize {
			t.Errorf("salt = %d bytes, want %d", len(sealed.Salt), SaltSize)
		}
		if len(sealed.Nonce) != NonceSize {
			t.Errorf("nonce = %d bytes, want %d", len(sealed.Nonce), NonceSize)
		}
		if len(sealed.Tag) != TagSize {
			t.Errorf("tag = %d bytes, want %d", len(sealed.Tag), TagSize)
		}
		if len(sealed.Ciphertext) != len(secret) {
			t.Errorf("ciphertext = %d bytes, want %d", len(sealed.Ciphertext), len(secret))
		}

		opened, err := Decrypt(sealed, "correct horse")
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", secret, err)
		}
		if opened != secret {
			t.Errorf("Decrypt = %q, want %q", opened, secret)
		}
	}
}

func TestEncrypt_FreshSaltAndNonce(t *testing.T) {
	a, err := Encrypt(testMnemonic, "pw")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt(testMnemonic, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Salt) == string(b.Salt) {
		t.Error("two encryptions reused a salt")
	}
	if string(a.Nonce) == string(b.Nonce) {
		t.Error("two encryptions reused a nonce")
	}
	if string(a.Ciphertext) == string(b.Ciphertext) {
		t.Error("two encryptions produced identical ciphertext")
	}
}

func TestDecrypt_SingleErrorForAllFailures(t *testing.T) {
	sealed, err := Encrypt(testMnemonic, "right")
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]func() (*EncryptedSecret, string){
		"wrong password": func() (*EncryptedSecret, string) {
			return sealed, "wrong"
		},
		"tampered ciphertext": func() (*EncryptedSecret, string) {
			c := *sealed
			c.Ciphertext = append([]byte(nil), sealed.Ciphertext...)
			c.Ciphertext[0] ^= 0x01
			return &c, "right"
		},
		"tampered tag": func() (*EncryptedSecret, string) {
			c := *sealed
			c.Tag = append([]byte(nil), sealed.Tag...)
			c.Tag[0] ^= 0x01
			return &c, "right"
		},
		"truncated nonce": func() (*EncryptedSecret, string) {
			c := *sealed
			c.Nonce = sealed.Nonce[:8]
			return &c, "right"
		},
		"missing tag": func() (*EncryptedSecret, string) {
			c := *sealed
			c.Tag = nil
			return &c, "right"
		},
		"nil secret": func() (*EncryptedSecret, string) {
			return nil, "right"
		},
	}
	for name, mutate := range cases {
		sec, pw := mutate()
		_, err := Decrypt(sec, pw)
		if !errors.Is(err, ErrInvalidPasswordOrCorruptData) {
			t.Errorf("%s: err = %v, want ErrInvalidPasswordOrCorruptData", name, err)
		}
	}
}

func TestHashPassword_Deterministic(t *testing.T) {
	hash, salt, err := HashPassword("hunter2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != KeySize || len(salt) != SaltSize {
		t.Fatalf("hash/salt = %d/%d bytes, want %d/%d", len(hash), len(salt), KeySize, SaltSize)
	}

	again, _, err := HashPassword("hunter2", salt)
	if err != nil {
		t.Fatal(err)
	}
	if string(hash) != string(again) {
		t.Error("same password and salt should derive the same hash")
	}

	other, _, err := HashPassword("hunter3", salt)
	if err != nil {
		t.Fatal(err)
	}
	if string(hash) == string(other) {
		t.Error("different passwords should derive different hashes")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, salt, err := HashPassword("hunter2", nil)
	if err != nil {
		t.Fatal(err)
	}

	if !VerifyPassword("hunter2", hash, salt) {
		t.Error("correct password should verify")
	}
	if VerifyPassword("hunter3", hash, salt) {
		t.Error("wrong password should not verify")
	}
	if VerifyPassword("hunter2", hash[:10], salt) {
		t.Error("malformed stored hash should not verify")
	}
	if VerifyPassword("hunter2", hash, nil) {
		t.Error("missing salt should not verify")
	}
}

func TestVerifyPassword_TimingComparable(t *testing.T) {
	hash, salt, err := HashPassword("correct horse", nil)
	if err != nil {
		t.Fatal(err)
	}

	const samples = 5
	median := func(password string, storedHash []byte) time.Duration {
		times := make([]time.Duration, samples)
		for i := range times {
			start := time.Now()
			VerifyPassword(password, storedHash, salt)
			times[i] = time.Since(start)
		}
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
		return times[samples/2]
	}

	match := median("correct horse", hash)
	mismatch := median("wrong battery staple", hash)

	// Match and mismatch run the same derive-and-compare path, so their
	// medians must sit in one band. The factor is generous to keep loaded
	// CI machines out of the noise.
	slow, fast := match, mismatch
	if slow < fast {
		slow, fast = fast, slow
	}
	if slow > 4*fast {
		t.Errorf("verification timing diverges: match %v vs mismatch %v", match, mismatch)
	}

	// The malformed-hash short circuit skips derivation but sleeps, so it
	// is not an instant tell either.
	if d := median("correct horse", hash[:10]); d < 40*time.Millisecond {
		t.Errorf("malformed-hash path returned in %v, want >= 40ms", d)
	}
}
