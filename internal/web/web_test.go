package web

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFiles(t *testing.T) {
	pages := []string{
		"layouts/base.html", "index.html", "medicines.html", "medicine_form.html",
		"schedule.html", "scan.html", "pharmacy.html", "pharmacy_results.html",
		"assistant.html", "settings.html", "error.html",
	}
	for _, p := range pages {
		f, err := Templates().Open(p)
		require.NoError(t, err, p)
		f.Close()
	}

	f, err := Static().Open("app.js")
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/ws")
}
