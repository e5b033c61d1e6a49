package outlier

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/stats"
)

// Observation is one training row for a Forecaster.
type Observation struct {
	Features []float64
	Target   float64
}

// Forecaster predicts a replacement value for a flagged sample. Ensemble
// regressors or neural models plug in here; the corrector never inspects them.
type Forecaster interface {
	Fit(obs []Observation) error
	Forecast(features []float64) (float64, error)
}

var errNotFitted = errors.New("forecaster not fitted")

// RegressionForecaster fits a least-squares line on the first feature.
type RegressionForecaster struct {
	reg *stats.RollingRegression
}

func (f *RegressionForecaster) Fit(obs []Observation) error {
	if len(obs) == 0 {
		return errNotFitted
	}
	reg, err := stats.NewRollingRegression(len(obs))
	if err != nil {
		return err
	}
	for _, o := range obs {
		if len(o.Features) == 0 {
			return fmt.Errorf("%w: observation without features", models.ErrInvalidValue)
		}
		if err := reg.Update(models.NoTime, o.Features[0], o.Target); err != nil {
			return err
		}
	}
	f.reg = reg
	return nil
}

func (f *RegressionForecaster) Forecast(features []float64) (float64, error) {
	if f.reg == nil {
		return 0, errNotFitted
	}
	if len(features) == 0 {
		return 0, fmt.Errorf("%w: empty feature vector", models.ErrInvalidValue)
	}
	return f.reg.Predict(features[0]), nil
}
