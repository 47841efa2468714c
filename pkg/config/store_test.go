package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredFiles(t *testing.T, dir, id, secret string) (string, string) {
	t.Helper()
	idFile := filepath.Join(dir, "client-id.txt")
	secretFile := filepath.Join(dir, "client-secret.txt")
	require.NoError(t, os.WriteFile(idFile, []byte(id), 0600))
	require.NoError(t, os.WriteFile(secretFile, []byte(secret), 0600))
	return idFile, secretFile
}

func TestStoreReadsFiles(t *testing.T) {
	dir := t.TempDir()
	idFile, secretFile := writeCredFiles(t, dir, "my-client\n", "s3cret\n")

	store := NewStore(IdentityConfig{
		ClientIDFile:     idFile,
		ClientSecretFile: secretFile,
	})

	creds := store.Credentials()
	assert.Equal(t, "my-client", creds.ClientID)
	assert.Equal(t, "s3cret", creds.ClientSecret)
	assert.True(t, creds.Ready())
}

func TestStoreFallsBackToStaticValues(t *testing.T) {
	dir := t.TempDir()

	store := NewStore(IdentityConfig{
		ClientIDFile:     filepath.Join(dir, "missing-id"),
		ClientSecretFile: filepath.Join(dir, "missing-secret"),
		ClientID:         "env-client",
		ClientSecret:     "env-secret",
	})

	creds := store.Credentials()
	assert.Equal(t, "env-client", creds.ClientID)
	assert.Equal(t, "env-secret", creds.ClientSecret)
}

func TestStoreFileWinsOverStatic(t *testing.T) {
	dir := t.TempDir()
	idFile, secretFile := writeCredFiles(t, dir, "file-client", "file-secret")

	store := NewStore(IdentityConfig{
		ClientIDFile:     idFile,
		ClientSecretFile: secretFile,
		ClientID:         "env-client",
		ClientSecret:     "env-secret",
	})

	assert.Equal(t, "file-client", store.Credentials().ClientID)
}

func TestWaitForCredentialsImmediate(t *testing.T) {
	dir := t.TempDir()
	idFile, secretFile := writeCredFiles(t, dir, "id", "secret")

	store := NewStore(IdentityConfig{ClientIDFile: idFile, ClientSecretFile: secretFile})
	err := store.WaitForCredentials(context.Background(), time.Second)
	assert.NoError(t, err)
}

func TestWaitForCredentialsEventualArrival(t *testing.T) {
	dir := t.TempDir()
	idFile := filepath.Join(dir, "client-id.txt")
	secretFile := filepath.Join(dir, "client-secret.txt")

	store := NewStore(IdentityConfig{ClientIDFile: idFile, ClientSecretFile: secretFile})
	require.False(t, store.Credentials().Ready())

	go func() {
		time.Sleep(700 * time.Millisecond)
		_ = os.WriteFile(idFile, []byte("late-id"), 0600)
		_ = os.WriteFile(secretFile, []byte("late-secret"), 0600)
	}()

	err := store.WaitForCredentials(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late-id", store.Credentials().ClientID)
}

func TestWaitForCredentialsTimesOut(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(IdentityConfig{
		ClientIDFile:     filepath.Join(dir, "never-id"),
		ClientSecretFile: filepath.Join(dir, "never-secret"),
	})

	err := store.WaitForCredentials(context.Background(), 700*time.Millisecond)
	assert.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	idFile, secretFile := writeCredFiles(t, dir, "v1", "secret")

	store := NewStore(IdentityConfig{ClientIDFile: idFile, ClientSecretFile: secretFile})
	require.Equal(t, "v1", store.Credentials().ClientID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = store.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(idFile, []byte("v2"), 0600))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if store.Credentials().ClientID == "v2" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, "v2", store.Credentials().ClientID)

	cancel()
	<-done
}
