package models

import "fmt"

// BarFields is the number of numeric columns stored per row.
const BarFields = 6

type Bar struct {
	Timestamp float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Values returns the row in storage column order.
func (b Bar) Values() []float64 {
	return []float64{b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume}
}

// RawBar is one element of a timescale_update series as sent by the server.
type RawBar struct {
	Index  int       `json:"i"`
	Values []float64 `json:"v"`
}

// ToBar converts a raw value vector. Missing trailing fields are zero.
func (r RawBar) ToBar() (Bar, error) {
	if len(r.Values) < 2 || len(r.Values) > BarFields {
		return Bar{}, fmt.Errorf("bar %d has %d values", r.Index, len(r.Values))
	}
	var v [BarFields]float64
	copy(v[:], r.Values)
	return Bar{Timestamp: v[0], Open: v[1], High: v[2], Low: v[3], Close: v[4], Volume: v[5]}, nil
}

// BarsFromRaw converts a whole server series.
func BarsFromRaw(raw []RawBar) ([]Bar, error) {
	bars := make([]Bar, 0, len(raw))
	for _, r := range raw {
		b, err := r.ToBar()
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}
