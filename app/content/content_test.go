package content

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Default(t *testing.T) {
	l, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "AgenClip", l.Brand)
	assert.Equal(t, "6281234567890", l.WhatsApp.Number)
	assert.Len(t, l.Stats, 4)
	assert.Len(t, l.Features.Items, 3)
	require.Len(t, l.Plans, 2)
	assert.True(t, l.Plans[1].Featured)
	assert.Equal(t, "Rp 299.000", l.Plans[1].Price)
	assert.Len(t, l.FAQ, 3)
	assert.Equal(t, "SOON", l.ComingSoon.Highlight)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content.yml")
	data := `
brand: ClipShop
whatsapp:
  number: "15551234567"
plans:
  - name: Basic
    price: $10
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	l, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ClipShop", l.Brand)
	assert.Equal(t, "https://wa.me/15551234567", l.OrderLink())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{name: "bad yaml", data: "brand: [", errMsg: "can't parse content"},
		{name: "no brand", data: "whatsapp: {number: '123'}\nplans: [{name: a, price: b}]", errMsg: "brand is required"},
		{name: "no number", data: "brand: x\nplans: [{name: a, price: b}]", errMsg: "whatsapp number is required"},
		{name: "bad number", data: "brand: x\nwhatsapp: {number: '+62 812'}\nplans: [{name: a, price: b}]",
			errMsg: "digits only"},
		{name: "no plans", data: "brand: x\nwhatsapp: {number: '123'}", errMsg: "at least one plan"},
		{name: "plan without price", data: "brand: x\nwhatsapp: {number: '123'}\nplans: [{name: a}]",
			errMsg: "plan 1: name and price are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLanding_OrderLink(t *testing.T) {
	l := Landing{WhatsApp: WhatsApp{Number: "6281234567890", Message: "Halo Min, saya mau order Paket AgenClip Promo."}}
	assert.Equal(t, "https://wa.me/6281234567890?text=Halo+Min%2C+saya+mau+order+Paket+AgenClip+Promo.", l.OrderLink())
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema()
	assert.Equal(t, "AgenClip Content Schema", schema.Title)

	data, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"whatsapp"`)
	assert.Contains(t, string(data), `"coming_soon"`)
}
