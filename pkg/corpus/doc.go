/*
Package corpus stores named training texts in a SQLite database so that
models can be trained, and retrained, from the same input without the
caller keeping the text around.

Only corpora are stored. Trained models live in memory and are rebuilt from
a corpus when needed.
*/
package corpus
