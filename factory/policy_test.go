package factory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy_Defaults(t *testing.T) {
	caps, sharing, err := ParsePolicy(DefaultPolicyJSON)
	require.NoError(t, err)

	defaults := coin.DefaultCapPolicy()
	assert.Equal(t, defaults.Categories(), caps.Categories())
	target := decimal.NewFromInt(300)
	for _, category := range coin.Categories {
		want := defaults.GovernmentCap(category, target, nil)
		assert.True(t, want.Equal(caps.GovernmentCap(category, target, nil)), category)
	}
	assert.True(t, settlement.DefaultSharingPolicy().TeacherPercentage.Equal(sharing.TeacherPercentage))
	assert.True(t, settlement.DefaultSharingPolicy().MerchantPercentage.Equal(sharing.MerchantPercentage))
}

func TestParsePolicy_Custom(t *testing.T) {
	// GIVEN: Equipment raised to 250, events capped at 50, teachers at 75%
	doc := `{
	  "categories": {
	    "equipment": {"max_government": "250"},
	    "event":     {"max_government": 50}
	  },
	  "default": {"full_price": true},
	  "sharing": {"teacher_percentage": "75"}
	}`

	// WHEN
	caps, sharing, err := ParsePolicy(doc)

	// THEN
	require.NoError(t, err)
	target := decimal.NewFromInt(400)
	assert.True(t, decimal.NewFromInt(250).Equal(caps.GovernmentCap(coin.CategoryEquipment, target, nil)))
	assert.True(t, decimal.NewFromInt(50).Equal(caps.GovernmentCap(coin.CategoryEvent, target, nil)))
	// Categories not listed fall back to the default section.
	assert.True(t, target.Equal(caps.GovernmentCap(coin.CategoryExercise, target, nil)))

	assert.True(t, decimal.NewFromInt(75).Equal(sharing.TeacherPercentage))
	assert.True(t, decimal.NewFromInt(80).Equal(sharing.MerchantPercentage))
}

func TestParsePolicy_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `{"categories": [}`},
		{"unknown category", `{"categories": {"karaoke": {"full_price": true}}}`},
		{"negative max", `{"categories": {"equipment": {"max_government": "-1"}}}`},
		{"percentage above 100", `{"sharing": {"merchant_default_percentage": "120"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParsePolicy(tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	data, err := json.Marshal(ToJSON(coin.DefaultCapPolicy(), settlement.DefaultSharingPolicy()))
	require.NoError(t, err)

	caps, sharing, err := ParsePolicy(string(data))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(200).Equal(caps.GovernmentCap(coin.CategoryEquipment, decimal.NewFromInt(300), nil)))
	assert.True(t, caps.CapFor(coin.CategoryWatchGame).FullPrice)
	assert.True(t, decimal.NewFromInt(70).Equal(sharing.TeacherPercentage))
}

func TestLoadPolicyFile(t *testing.T) {
	caps, _, err := LoadPolicyFile("")
	require.NoError(t, err)
	assert.NotNil(t, caps)

	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"categories": {"equipment": {"max_government": "100"}}}`), 0o600))
	caps, _, err = LoadPolicyFile(path)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(caps.GovernmentCap(coin.CategoryEquipment, decimal.NewFromInt(300), nil)))

	_, _, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
