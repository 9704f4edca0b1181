package signal

import "errors"

var (
	ErrUnknownParser    = errors.New("unknown parser name")
	ErrNotASignal       = errors.New("signal format not recognized")
	ErrNoTargets        = errors.New("no targets found")
	ErrInvalidEntry     = errors.New("invalid entry price")
	ErrInvalidStopLoss  = errors.New("invalid stop loss price")
	ErrInvalidLeverage  = errors.New("invalid leverage")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidDirection = errors.New("invalid direction")
)
