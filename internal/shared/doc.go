// Package shared holds helpers used across the divecli codebase that belong
// to no single domain package.
//
// The testutil subpackage provides a log capturing slog handler and a fake
// remote query service for tests:
//
//	func TestSomething(t *testing.T) {
//	    remote := testutil.NewFakeRemote(t)
//	    remote.On("select_annotations", testutil.Okay("q1"))
//	    logger, logs := testutil.NewTestLogger(t)
//	    ...
//	}
package shared
