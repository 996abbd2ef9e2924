package services

import "time"

// Clock overrides for deterministic tests.

func (s *BookingService) SetNow(f func() time.Time) { s.now = f }

func (s *WaitlistService) SetNow(f func() time.Time) { s.now = f }

func (s *SplitService) SetNow(f func() time.Time) { s.now = f }

func (s *RecurringService) SetNow(f func() time.Time) { s.now = f }

func (e *JobEngine) SetNow(f func() time.Time) { e.now = f }
