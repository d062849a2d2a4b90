// Package mocks provides shared mock implementations for testing.
//
// # Usage
//
//	import "sgi/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    model := mocks.NewMockLLMClient()
//	    model.RespondWithSequence(
//	        mocks.Step{Response: mocks.ToolCallResponse("query_projects", map[string]any{"count_only": true})},
//	        mocks.Step{Response: mocks.TextResponse("Il y a 3 projets.")},
//	    )
//	    // Use model in test...
//	}
//
// # Available Mocks
//
//   - MockLLMClient: Mock for the pkg/llm.LLMClient interface
//   - MockSender: Records replies delivered on the messaging channel
package mocks
