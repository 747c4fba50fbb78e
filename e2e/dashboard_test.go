//go:build e2e

package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_ComingSoon(t *testing.T) {
	page := newPage(t)
	_, err := page.Goto(baseURL + "/create")
	require.NoError(t, err)

	waitVisible(t, page, ".lock-title", 5000)
	visible, err := page.Locator("input[name='pin']").IsVisible()
	require.NoError(t, err)
	assert.False(t, visible, "pin form is folded")
}

func TestLock_WrongPin(t *testing.T) {
	page := newPage(t)
	unlock(t, page, "0000")

	waitVisible(t, page, ".pin-error", 5000)
	text, err := page.Locator(".pin-error").TextContent()
	require.NoError(t, err)
	assert.Equal(t, "PIN SALAH! Akses Ditolak.", text)

	value, err := page.Locator("input[name='pin']").InputValue()
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestDashboard_UploadFlow(t *testing.T) {
	page := newPage(t)
	unlock(t, page, testPin)
	waitVisible(t, page, ".engine-status", 5000)

	status, err := page.Locator(".engine-status").TextContent()
	require.NoError(t, err)
	assert.Contains(t, status, "ONLINE")

	require.NoError(t, page.Locator("input[type='file']").SetInputFiles(videoFile(t)))
	require.NoError(t, page.Locator("form.upload button[type='submit']").Click())

	waitVisible(t, page, ".run-completed", 15000)
	title, err := page.Locator(".clip h3").First().TextContent()
	require.NoError(t, err)
	assert.Equal(t, "Clip 1", title)
	score, err := page.Locator(".clip-score").First().TextContent()
	require.NoError(t, err)
	assert.Equal(t, "91", score)

	// results stay after reload without another upload
	_, err = page.Reload()
	require.NoError(t, err)
	waitVisible(t, page, ".run-completed", 5000)
	waitVisible(t, page, ".history td", 5000)

	// create new goes back to the upload form
	require.NoError(t, page.Locator(".results-head button").Click())
	waitVisible(t, page, "form.upload", 5000)
}

func TestDashboard_LibraryReprocess(t *testing.T) {
	page := newPage(t)
	unlock(t, page, testPin)

	require.NoError(t, page.Locator(".tabs a").Nth(1).Click())
	waitVisible(t, page, ".library-item", 5000)
	name, err := page.Locator(".library-name").First().TextContent()
	require.NoError(t, err)
	assert.Equal(t, "episode-12.mp4", name)

	require.NoError(t, page.Locator(".library-item button").First().Click())
	waitVisible(t, page, ".run-completed", 15000)
}

func TestDashboard_Logout(t *testing.T) {
	page := newPage(t)
	unlock(t, page, testPin)
	waitVisible(t, page, ".engine-status", 5000)

	require.NoError(t, page.Locator("button:has-text('LOGOUT')").Click())
	waitVisible(t, page, ".hero", 5000)

	_, err := page.Goto(baseURL + "/create")
	require.NoError(t, err)
	waitVisible(t, page, ".lock-title", 5000)
}
