package stickyapp

import (
	"context"

	"go.uber.org/zap"
)

// Encrypt asks the service to encrypt and store value.
func (s *Session) Encrypt(ctx context.Context, value float64) Result {
	result, _ := s.SendCommand(ctx, Command{Action: ActionEncrypt, Value: value}, "")
	s.logOutcome(ActionEncrypt, result)
	return result
}

// Mean asks the service for the mean of the values stored so far.
func (s *Session) Mean(ctx context.Context) Result {
	result, _ := s.SendCommand(ctx, Command{Action: ActionMean, Value: 0.0}, "")
	v, _ := result.Value()
	s.logOutcome(ActionMean, result, zap.Float64("value", v))
	return result
}
