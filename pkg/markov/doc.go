/*
Package markov provides a small, fast toolkit for building fixed-order
character-level Markov models in Go and generating text from them.

A Model is trained from any io.Reader by sliding a window of a fixed number
of characters over the text and counting which character follows each
window. The counts are turned into probability and cumulative-probability
tables, and generation extends a seed string one character at a time by
sampling from the table of its trailing window.

Models are seedable for reproducible output, support temperature and top-K
sampling, and include a streaming API. A Model is not safe for concurrent
use; callers that share one must serialize access.
*/
package markov
