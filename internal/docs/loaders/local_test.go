package loaders

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qresponder/internal/docs"
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func byName(documents []docs.Document) map[string]docs.Document {
	out := make(map[string]docs.Document, len(documents))
	for _, d := range documents {
		out[d.Name] = d
	}
	return out
}

func TestLocalDir_LoadsTextDocuments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "encryption.md", []byte("<!-- SOURCE_URL: https://docs.example.com/encryption -->\n# Encryption\nAES-256 at rest.\n"))
	writeFile(t, root, "sso.txt", []byte("SAML and OIDC are supported.\n"))
	writeFile(t, root, "whitepaper.pdf", []byte("%PDF-1.7 binary"))
	writeFile(t, root, ".git/config.md", []byte("hidden"))
	writeFile(t, root, "notes.go", []byte("package notes"))
	writeFile(t, root, urlMappingFile, []byte(`{"sso.txt":"https://docs.example.com/sso"}`))

	got, err := (&LocalDir{Root: root}).Load(context.Background())
	require.NoError(t, err)

	m := byName(got)
	require.Len(t, m, 2)
	assert.Equal(t, "https://docs.example.com/encryption", m["encryption.md"].SourceURL)
	assert.Equal(t, "https://docs.example.com/sso", m["sso.txt"].SourceURL)
	assert.Equal(t, docs.KindDocument, m["sso.txt"].Kind)
	assert.Contains(t, m["encryption.md"].Content, "AES-256")
	assert.NotEmpty(t, m["encryption.md"].Fingerprint)
}

func TestLocalDir_CollidingBaseNamesUseRelativePath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "security/README.md", []byte("security"))
	writeFile(t, root, "privacy/README.md", []byte("privacy"))
	writeFile(t, root, "overview.md", []byte("overview"))

	got, err := (&LocalDir{Root: root}).Load(context.Background())
	require.NoError(t, err)

	m := byName(got)
	assert.Contains(t, m, "security/README.md")
	assert.Contains(t, m, "privacy/README.md")
	assert.Contains(t, m, "overview.md")
}

func TestLocalDir_SkipsOversizedAndBinaryContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", make([]byte, 2048))
	writeFile(t, root, "fake.md", []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x10})
	writeFile(t, root, "ok.md", []byte("fine"))

	got, err := (&LocalDir{Root: root, MaxFileBytes: 1024}).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "ok.md", got[0].Name)
}

func TestLocalDir_MissingRoot(t *testing.T) {
	_, err := (&LocalDir{Root: filepath.Join(t.TempDir(), "absent")}).Load(context.Background())
	require.Error(t, err)

	f := filepath.Join(t.TempDir(), "file.md")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err = (&LocalDir{Root: f}).Load(context.Background())
	require.ErrorContains(t, err, "not a directory")
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0o644))
	info, err := os.Stat(p)
	require.NoError(t, err)

	a := Fingerprint(info, []byte("one"))
	assert.Equal(t, a, Fingerprint(info, []byte("one")))
	assert.NotEqual(t, a, Fingerprint(info, []byte("two")))
	assert.Len(t, a, 64)
}
