package charges

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/costdata"
	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

func item(company, itemNumber, year string, v float64) costdata.Row {
	return costdata.Row{Company: company, ItemNumber: itemNumber, Year: year, Unit: "£m", DP: 3, Value: v}
}

func twoCompanies() []costdata.Row {
	return []costdata.Row{
		item("WSX", "PRABCL1", "2025-26", 10),
		item("WSX", "PRABCL2", "2025-26", 5),
		item("WSX", "PRAECL1", "2025-26", 2),
		item("WSX", "PRCBLC1", "2025-26", 9),
		item("WSX", "PRCELC1", "2025-26", 1.5),
		item("ANH", "PRABCL1", "2026-27", 20),
		item("ANH", "PRAECL1", "2026-27", 4),
		item("ANH", "PRCBLC1", "2026-27", 18),
		item("ANH", "PRCELC1", "2026-27", 3),
		item("ANH", "PRABCL1", "2025-26", 8),
		item("ANH", "PRAECL1", "2025-26", 3),
		item("ANH", "PRCBLC1", "2025-26", 7),
		item("ANH", "PRCELC1", "2025-26", 2),
		item("ANH", "BPTBCL1", "2025-26", 1000),
	}
}

func identity() []Schedule {
	return []Schedule{{ID: "S", Factors: map[string]float64{"Y1": 1.0}}}
}

func TestClassify(t *testing.T) {
	c, ok := Classify("PRCELC4")
	require.True(t, ok)
	assert.Equal(t, CustomerEnhancement, c)
	assert.Equal(t, "PRCELC", c.String())

	_, ok = Classify("BPTBCL1")
	assert.False(t, ok)
}

func TestChargeIdentity(t *testing.T) {
	r := 0.1
	out, err := NewEngine(failure.Lenient, nil).Run(twoCompanies(), identity(), []float64{r})
	require.NoError(t, err)

	// 2 smoothed + 3 return + 3 charge rows.
	require.Len(t, out, 8)

	a1, a2, b1, b2 := 8.0, 3.0, 7.0, 2.0
	ret := out[2]
	assert.Equal(t, "ANHPRCRCO1", ret.ItemNumber)
	assert.Equal(t, "2025-26", ret.Year)
	assert.Equal(t, (a1+a2)*r, ret.Value)
	assert.Nil(t, ret.SmoothFactor)

	charge := out[5]
	assert.Equal(t, "ANHPRCTCU1", charge.ItemNumber)
	assert.Equal(t, "2025-26", charge.Year)
	assert.Equal(t, b1+b2+(a1+a2)*r, charge.Value)
	assert.Equal(t, DefaultUnit, charge.Unit)
	assert.Equal(t, DefaultDP, charge.DP)
	assert.Equal(t, r, charge.CompanyReturn)
	assert.Empty(t, charge.Scenario)

	wsx := out[7]
	assert.Equal(t, "WSXPRCTCU1", wsx.ItemNumber)
	wa1, wa2, wb1, wb2 := 15.0, 2.0, 9.0, 1.5
	assert.Equal(t, wb1+wb2+(wa1+wa2)*r, wsx.Value)
}

func TestIdentityScheduleYieldsAverage(t *testing.T) {
	r := 0.1
	out, err := NewEngine(failure.Lenient, nil).Run(twoCompanies(), identity(), []float64{r})
	require.NoError(t, err)

	anh := out[0]
	assert.Equal(t, "ANHPRSMCT1", anh.ItemNumber)
	assert.Equal(t, "Y1", anh.Year)
	assert.Equal(t, "S", anh.Scenario)
	require.NotNil(t, anh.SmoothFactor)
	assert.Equal(t, 1.0, *anh.SmoothFactor)
	assert.Equal(t, (out[5].Value+out[6].Value)/2, anh.Value)

	assert.Equal(t, "WSXPRSMCT1", out[1].ItemNumber)
	assert.Equal(t, out[7].Value, out[1].Value)
}

func TestSmoothingOrder(t *testing.T) {
	schedules := []Schedule{
		{ID: "2", Factors: map[string]float64{"2026-27": 2, "2025-26": 1}},
		{ID: "1", Factors: map[string]float64{"2025-26": 0.5, "2026-27": 0.25}},
	}
	out, err := NewEngine(failure.Lenient, nil).Run(twoCompanies(), schedules, []float64{0.08, 0.09})
	require.NoError(t, err)
	// per return: 2 schedules x 2 years x 2 companies + 3 + 3
	require.Len(t, out, 2*(8+6))

	got := make([]string, 0, 8)
	for _, r := range out[:8] {
		got = append(got, r.Scenario+"/"+r.Year+"/"+r.Company)
	}
	assert.Equal(t, []string{
		"2/2025-26/ANH", "2/2025-26/WSX", "2/2026-27/ANH", "2/2026-27/WSX",
		"1/2025-26/ANH", "1/2025-26/WSX", "1/2026-27/ANH", "1/2026-27/WSX",
	}, got)
	assert.Equal(t, 0.08, out[0].CompanyReturn)
	assert.Equal(t, 0.09, out[14].CompanyReturn)
}

func TestMissingCategory(t *testing.T) {
	rows := append(twoCompanies(), item("SVT", "PRABCL1", "2025-26", 1))

	out, err := NewEngine(failure.Lenient, nil).Run(rows, identity(), []float64{0.1})
	require.NoError(t, err)
	var svt []ResultRow
	for _, r := range out {
		if r.Company == "SVT" {
			svt = append(svt, r)
		}
	}
	require.Len(t, svt, 3)
	assert.True(t, math.IsNaN(svt[0].Value), "average of all-NaN charges is NaN")
	assert.True(t, math.IsNaN(svt[1].Value))

	_, err = NewEngine(failure.Strict, nil).Run(rows, identity(), []float64{0.1})
	require.ErrorIs(t, err, failure.ErrMissingCompanyData)
}

func TestAverageSkipsNaNYears(t *testing.T) {
	rows := append(twoCompanies(), item("ANH", "PRABCL1", "2027-28", 1))
	out, err := NewEngine(failure.Lenient, nil).Run(rows, identity(), []float64{0.1})
	require.NoError(t, err)

	var charges []float64
	for _, r := range out {
		if r.ItemNumber == "ANHPRCTCU1" {
			charges = append(charges, r.Value)
		}
	}
	require.Len(t, charges, 3)
	assert.True(t, math.IsNaN(charges[2]))
	assert.Equal(t, (charges[0]+charges[1])/2, out[0].Value)
}

func TestCustomSuffixes(t *testing.T) {
	e := NewEngine(failure.Lenient, nil)
	e.ChargeSuffix = "XCHG"
	e.Unit = "£m"
	out, err := e.Run(twoCompanies(), identity(), []float64{0.1})
	require.NoError(t, err)
	assert.Equal(t, "ANHXCHG", out[5].ItemNumber)
	assert.Equal(t, "£m", out[5].Unit)
}

func TestValidateSchedules(t *testing.T) {
	require.NoError(t, ValidateSchedules(identity()))

	err := ValidateSchedules([]Schedule{
		{ID: "1", Factors: map[string]float64{"2025-26": 1}},
		{ID: "2", Factors: map[string]float64{"2026-27": 1}},
	})
	assert.Equal(t, failure.CodeValidation, failure.CodeOf(err))

	err = ValidateSchedules([]Schedule{
		{ID: "1", Factors: map[string]float64{"2025-26": 1}},
		{ID: "1", Factors: map[string]float64{"2025-26": 1}},
	})
	assert.Error(t, err)
	assert.Error(t, ValidateSchedules(nil))
}
