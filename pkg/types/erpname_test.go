package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseERPName(t *testing.T) {
	tests := []struct {
		in   string
		want ERPName
	}{
		{"", ERPName{}},
		{"RES", ERPName{FullName: "RES", Type: "RES"}},
		{"RES_0603", ERPName{FullName: "RES_0603", Type: "RES", PartNumber: "0603"}},
		{"RES_0603_10k_1%", ERPName{FullName: "RES_0603_10k_1%", Type: "RES", PartNumber: "0603", AdditionalParameters: "10k_1%"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseERPName(tt.in), tt.in)
	}
}

func TestERPNameCompose(t *testing.T) {
	n := ERPName{Type: "CAP", AdditionalParameters: "100nF"}.Compose()
	assert.Equal(t, "CAP_100nF", n.FullName)

	n = ERPName{Type: "CAP", PartNumber: NoPartNumber, AdditionalParameters: "100nF"}.Compose()
	assert.Equal(t, "CAP_NO-PN_100nF", n.FullName)

	h := ERPName{Type: "CON_X", PartNumber: "A_1", AdditionalParameters: "2_row"}.HyphenateUnderscores()
	assert.Equal(t, "CON-X_A-1_2-row", h.FullName)
	assert.Equal(t, ParseERPName(h.FullName), h)
}

func TestDecodeERPName(t *testing.T) {
	obj := DecodeERPName(json.RawMessage(`{"full_name":"A_B","type":"A","part_number":"B","additional_parameters":""}`))
	assert.Equal(t, ERPName{FullName: "A_B", Type: "A", PartNumber: "B"}, obj)

	str := DecodeERPName(json.RawMessage(`"A_B_C"`))
	assert.Equal(t, "C", str.AdditionalParameters)

	assert.True(t, DecodeERPName(json.RawMessage(`42`)).IsZero())
	assert.True(t, DecodeERPName(nil).IsZero())
}
