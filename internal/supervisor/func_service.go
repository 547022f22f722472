// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

package supervisor

import "context"

// FuncService adapts a run function (such as the hub's RunWithContext)
// into a named suture service.
type FuncService struct {
	name string
	run  func(ctx context.Context) error
}

// NewFuncService wraps run as a supervised service called name.
func NewFuncService(name string, run func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, run: run}
}

// Serve implements suture.Service.
func (s *FuncService) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String implements fmt.Stringer for suture's logging.
func (s *FuncService) String() string {
	return s.name
}
