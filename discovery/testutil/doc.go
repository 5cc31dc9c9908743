// Package testutil provides an in-memory discovery source for tests.
//
//	src := testutil.NewSource("fake")
//	src.Set("app", "orders", testutil.Instance("a", "rest://10.0.0.1:8080"))
//	m, _ := discovery.NewManager(discovery.DefaultConfig(), []discovery.Source{src})
//
// Fail, Hold and Push drive the failure, timeout and push paths of the
// manager.
package testutil
