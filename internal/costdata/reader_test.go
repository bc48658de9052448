package costdata

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

const sampleCSV = `Model 1 input data,,,,,,
,company,item number,year,unit,dp,value
0,ANH,APRBCL1,2018-19,£m,3,12.5
1,ANH,APRHH1,2018-19,000s,3,2100
,,,,,,
2,WSX,BPTBCL1,2025-26,£m,3,
`

func TestReadCSVDropsIndexColumnAndBlankLines(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Row{Company: "ANH", ItemNumber: "APRBCL1", Year: "2018-19", Unit: "£m", DP: 3, Value: 12.5}, rows[0])
	assert.Equal(t, 2100.0, rows[1].Value)
	assert.Equal(t, "WSX", rows[2].Company)
	assert.True(t, math.IsNaN(rows[2].Value), "blank value should read as NaN")
}

func TestReadCSVMissingColumnIsSchemaError(t *testing.T) {
	in := "banner\n,company,item number,year,unit,value\n0,ANH,APRBCL1,2018-19,£m,1\n"
	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Equal(t, failure.CodeSchema, failure.CodeOf(err))
	assert.Contains(t, err.Error(), `"dp"`)
}

func TestReadCSVNonNumericValueIsSchemaError(t *testing.T) {
	in := "banner\n,company,item number,year,unit,dp,value\n0,ANH,APRBCL1,2018-19,£m,3,n/a\n"
	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Equal(t, failure.CodeSchema, failure.CodeOf(err))
	assert.Contains(t, err.Error(), "row 3")
}

func TestFromTableWithoutHeaderRow(t *testing.T) {
	_, err := FromTable([][]string{{"banner"}}, HeaderRow)
	assert.Equal(t, failure.CodeSchema, failure.CodeOf(err))
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model1.xlsx")
	f := excelize.NewFile()
	idx, err := f.NewSheet(DefaultSheet)
	require.NoError(t, err)
	f.SetActiveSheet(idx)
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A1", &[]interface{}{"Model 1 input data"}))
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A2", &[]interface{}{"", "company", "item number", "year", "unit", "dp", "value"}))
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A3", &[]interface{}{0, "SVT", "BPTBCL2", "2020-21", "£m", 3, 4.25}))
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A4", &[]interface{}{1, "SVT", "BPTHH1", "2020-21", "000s", 3, 4000}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	rows, err := Read(path, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Company: "SVT", ItemNumber: "BPTBCL2", Year: "2020-21", Unit: "£m", DP: 3, Value: 4.25}, rows[0])
	assert.Equal(t, 4000.0, rows[1].Value)

	_, err = ReadXLSX(path, "no such sheet")
	assert.Equal(t, failure.CodeSchema, failure.CodeOf(err))
}

func TestReadXLSXIgnoresNumberFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formatted.xlsx")
	f := excelize.NewFile()
	idx, err := f.NewSheet(DefaultSheet)
	require.NoError(t, err)
	f.SetActiveSheet(idx)
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A1", &[]interface{}{"Model 1 input data"}))
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A2", &[]interface{}{"", "company", "item number", "year", "unit", "dp", "value"}))
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A3", &[]interface{}{0, "ANH", "APRBCL1", "2018-19", "£m", 3, 12.3456789}))
	require.NoError(t, f.SetSheetRow(DefaultSheet, "A4", &[]interface{}{1, "ANH", "APRHH1", "2018-19", "000s", 3, 1234567.5}))

	twoDP, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	require.NoError(t, err)
	thousands, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(DefaultSheet, "G3", "G3", twoDP))
	require.NoError(t, f.SetCellStyle(DefaultSheet, "G4", "G4", thousands))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	rows, err := ReadXLSX(path, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 12.3456789, rows[0].Value)
	assert.Equal(t, 1234567.5, rows[1].Value)
	assert.Equal(t, "APRHH1", rows[1].ItemNumber)
}

func TestCompaniesKeepsFirstAppearanceOrder(t *testing.T) {
	rows := []Row{{Company: "WSX"}, {Company: "ANH"}, {Company: "WSX"}}
	assert.Equal(t, []string{"WSX", "ANH"}, Companies(rows))
}

func TestCloneIsIndependent(t *testing.T) {
	rows := []Row{{Company: "ANH", Value: 1}}
	c := Clone(rows)
	c[0].Value = 2
	assert.Equal(t, 1.0, rows[0].Value)
}
