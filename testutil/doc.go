// Package testutil provides testing infrastructure for registrykit.
//
// TestComponent extends component.Component with Reset/Snapshot/Restore so
// fakes can be rewound between cases, and T(t) wires them into the test
// lifecycle:
//
//	func TestRefresh(t *testing.T) {
//	    src := dtest.NewFakeSource("fake")
//	    testutil.T(t).Setup(src) // stopped when the test ends
//	}
//
// ManualClock drives time-dependent code such as isolation expiry.
package testutil
