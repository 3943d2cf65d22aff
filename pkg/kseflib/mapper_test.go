package kseflib_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RexEtImperator/skaner-faktur-projekt/pkg/kseflib"
)

const sampleInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<Faktura>
  <Podmiot1><DaneIdentyfikacyjne><NIP>5260250274</NIP><Nazwa>Sprzedawca</Nazwa></DaneIdentyfikacyjne></Podmiot1>
  <Podmiot2><DaneIdentyfikacyjne><NIP>7010001454</NIP><Nazwa>Nabywca</Nazwa></DaneIdentyfikacyjne></Podmiot2>
  <Fa>
    <KodWaluty>PLN</KodWaluty>
    <P_1>2025-01-02</P_1>
    <P_2>FV/2025/01/0001</P_2>
    <P_13_1>100</P_13_1>
    <P_14_1>23</P_14_1>
    <P_15>123</P_15>
    <FaWiersz><P_7>Towar</P_7><P_11>100</P_11><P_12>23</P_12></FaWiersz>
  </Fa>
</Faktura>`

func TestMapInvoice(t *testing.T) {
	invoice, items, breakdown, err := kseflib.MapInvoice([]byte(sampleInvoice))
	require.NoError(t, err)

	assert.Equal(t, "FV/2025/01/0001", invoice.Number)
	assert.Equal(t, "PLN", invoice.Currency)
	require.Len(t, items, 1)
	require.Len(t, breakdown, 1)
	assert.Equal(t, "23", breakdown[0].VatRate)

	require.NoError(t, kseflib.ValidateInvoice(invoice, items))
	require.NoError(t, kseflib.ValidateBreakdown(items, breakdown))
}

func TestMapInvoice_NotXML(t *testing.T) {
	_, _, _, err := kseflib.MapInvoice([]byte("definitely not xml <"))

	var perr *kseflib.ParseError
	require.ErrorAs(t, err, &perr)
}
