// Package conversation rebuilds the prior turns of a chat so multi-turn
// context can be sent to an LLM backend.
//
// Feishu keeps the only copy of conversation state; nothing is stored
// locally. Two retrieval strategies are supported:
//
//   - Thread paging lists a thread's messages oldest first, one page at a
//     time, following the continuation token.
//   - Reply-chain walking fetches a message, then its parent, and so on,
//     and reverses the result so turns read oldest first.
//
// Both stop at the caller's turn limit. A failed fetch ends the walk and
// the turns gathered so far are returned.
//
// Message bodies are decoded by MessageText, which understands plain text
// and interactive cards. Messages whose text cannot be decoded are skipped.
package conversation
