package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/service"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

// Prompter asks for the analysis inputs missing from the command line.
type Prompter interface {
	Ticker() (string, error)
	TradeDate(def string) (string, error)
	Analysts(def []string) ([]string, error)
}

type surveyPrompter struct{}

func (surveyPrompter) Ticker() (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Ticker symbol:",
		Help:    "One to five letters, e.g. AAPL",
	}
	err := survey.AskOne(prompt, &ticker, survey.WithValidator(survey.Required), survey.WithValidator(validateTicker))
	return ticker, err
}

func (surveyPrompter) TradeDate(def string) (string, error) {
	var date string
	prompt := &survey.Input{
		Message: "Analysis date (YYYY-MM-DD):",
		Default: def,
	}
	err := survey.AskOne(prompt, &date, survey.WithValidator(validateDate))
	return date, err
}

func (surveyPrompter) Analysts(def []string) ([]string, error) {
	var selected []string
	prompt := &survey.MultiSelect{
		Message: "Select analysts:",
		Options: consts.AnalystOrder,
		Default: def,
	}
	err := survey.AskOne(prompt, &selected, survey.WithValidator(survey.MinItems(1)))
	return selected, err
}

func validateTicker(ans interface{}) error {
	s, ok := ans.(string)
	if !ok {
		return errors.New("ticker must be text")
	}
	_, err := service.NormalizeTicker(s)
	return err
}

func validateDate(ans interface{}) error {
	s, ok := ans.(string)
	if !ok {
		return errors.New("date must be text")
	}
	d, err := time.Parse(pkg.DateLayout, s)
	if err != nil {
		return fmt.Errorf("%q is not YYYY-MM-DD", s)
	}
	if d.After(time.Now()) {
		return errors.New("date cannot be in the future")
	}
	return nil
}
