package sensor

import "errors"

// FakeRanger is a test double that returns scripted ranging results.
type FakeRanger struct {
	// Results contains scripted results. Each call to Result consumes the
	// next one; when exhausted the last result repeats.
	Results []RangeResult
	index   int

	// NotReady makes DataReady report false this many times before true.
	NotReady int

	// InitError, ReadyError and ResultError, if set, are returned by the
	// corresponding calls.
	InitError   error
	ReadyError  error
	ResultError error

	Initialized bool
	Ranging     bool
	PoweredOff  bool
	BudgetMs    int
	InterMs     int
	Cleared     int // ClearInterrupt calls
}

// NewFakeRanger creates a FakeRanger returning the given distances as valid results.
func NewFakeRanger(distances ...int) *FakeRanger {
	f := &FakeRanger{}
	for _, d := range distances {
		f.Results = append(f.Results, RangeResult{DistanceMM: d})
	}
	return f
}

func (f *FakeRanger) Init() error {
	if f.InitError != nil {
		return f.InitError
	}
	f.Initialized = true
	f.PoweredOff = false
	return nil
}

func (f *FakeRanger) Off() error {
	f.PoweredOff = true
	return nil
}

func (f *FakeRanger) SetRangeTiming(budgetMs, interMeasurementMs int) error {
	f.BudgetMs = budgetMs
	f.InterMs = interMeasurementMs
	return nil
}

func (f *FakeRanger) StartRanging() error {
	f.Ranging = true
	return nil
}

func (f *FakeRanger) StopRanging() error {
	f.Ranging = false
	return nil
}

func (f *FakeRanger) DataReady() (bool, error) {
	if f.ReadyError != nil {
		return false, f.ReadyError
	}
	if f.NotReady > 0 {
		f.NotReady--
		return false, nil
	}
	return true, nil
}

func (f *FakeRanger) ClearInterrupt() error {
	f.Cleared++
	return nil
}

func (f *FakeRanger) Result() (RangeResult, error) {
	if f.ResultError != nil {
		return RangeResult{}, f.ResultError
	}
	if len(f.Results) == 0 {
		return RangeResult{}, errors.New("no results configured")
	}
	r := f.Results[f.index]
	if f.index < len(f.Results)-1 {
		f.index++
	}
	return r, nil
}

// FakeThermometer is a test double returning fixed temperatures.
type FakeThermometer struct {
	Ambient     float64
	Object      float64
	Emiss       float64
	InitError   error
	ReadError   error
	Initialized bool
}

func (f *FakeThermometer) Init() error {
	if f.InitError != nil {
		return f.InitError
	}
	f.Initialized = true
	return nil
}

func (f *FakeThermometer) AmbientC() (float64, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Ambient, nil
}

func (f *FakeThermometer) ObjectC() (float64, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Object, nil
}

func (f *FakeThermometer) Emissivity() (float64, error) {
	return f.Emiss, nil
}

// FakeADC is a test double returning a fixed conversion.
type FakeADC struct {
	Raw         int
	InitError   error
	ReadError   error
	Initialized bool
}

func (f *FakeADC) Init() error {
	if f.InitError != nil {
		return f.InitError
	}
	f.Initialized = true
	return nil
}

func (f *FakeADC) ReadRaw() (int, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Raw, nil
}

var (
	_ Ranger      = (*FakeRanger)(nil)
	_ Thermometer = (*FakeThermometer)(nil)
	_ ADC         = (*FakeADC)(nil)
	_ Ranger      = (*VL53L4CD)(nil)
	_ Thermometer = (*MLX90614)(nil)
	_ ADC         = (*MCP3425)(nil)
)
