// Package backend adapts LLM services that stream over server-sent events.
//
// Two providers exist:
//
//   - OpenAI speaks the chat-completions protocol. The request carries the
//     optional system prompt, prior turns and the new user message. Each
//     data line is a JSON chunk; the stream ends with "data: [DONE]".
//   - Dify speaks the Dify app API. Workflow apps receive the query as an
//     input and are stateless. Chat apps receive the query plus the
//     conversation_id remembered from the previous turn of the same user.
//     Every data line carries an "event" discriminator.
//
// Decoding is lenient. A line that does not parse contributes nothing and
// does not end the stream.
package backend
