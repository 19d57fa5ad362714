package server

import (
	"strings"
)

// Message is a translatable text: an id plus the named values it
// interpolates as {{NAME}}.
type Message struct {
	ID     string
	Params map[string]string
}

// msg builds a Message from alternating name/value pairs.
func msg(id string, kv ...string) Message {
	m := Message{ID: id}
	if len(kv) > 0 {
		m.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			m.Params[kv[i]] = kv[i+1]
		}
	}
	return m
}

var translations = map[string]map[string]string{
	"en": {
		"400-page-title":              "Invalid request",
		"404-page-title":              "Content not found",
		"500-page-title":              "Internal Server Error",
		"500-page-text":               "An internal server error occured. We are sorry about that :/",
		"confusion-of-tongues":        "Two or more books in different languages would participate in search, which may lead to confusing results.",
		"fulltext-search-unavailable": "Fulltext search unavailable",
		"invalid-raw-data-type":       "{{DATATYPE}} is not a valid request for raw content.",
		"invalid-request":             "The requested URL \"{{URL}}\" is not a valid request.",
		"no-book-found":               "No book matches selection criteria",
		"no-entry-found":              "Cannot find {{KIND}} entry {{PATH}}",
		"no-query":                    "No query provided.",
		"no-search-results":           "No results were found for \"{{SEARCH_PATTERN}}\"",
		"no-such-book":                "No such book: {{BOOK_NAME}}",
		"no-value-for-arg":            "No value provided for argument {{ARGUMENT}}",
		"random-article-failure":      "Oops! Failed to pick a random article :(",
		"search-results-page-title":   "Search: {{SEARCH_PATTERN}}",
		"suggest-full-text-search":    "containing '{{SEARCH_TERMS}}'...",
		"suggest-search":              "Make a full text search for {{PATTERN}}",
		"too-many-books":              "Too many books requested ({{NB_BOOKS}}) where limit is {{LIMIT}}",
		"url-not-found":               "The requested URL \"{{URL}}\" was not found on this server.",
	},
	"fr": {
		"400-page-title":              "Requête invalide",
		"404-page-title":              "Contenu introuvable",
		"500-page-title":              "Erreur interne du serveur",
		"confusion-of-tongues":        "Plusieurs livres de langues différentes participeraient à la recherche, ce qui peut donner des résultats confus.",
		"fulltext-search-unavailable": "Recherche plein texte indisponible",
		"no-book-found":               "Aucun livre ne correspond aux critères de sélection",
		"no-query":                    "Aucune requête fournie.",
		"no-search-results":           "Aucun résultat pour « {{SEARCH_PATTERN}} »",
		"no-such-book":                "Livre inconnu : {{BOOK_NAME}}",
		"random-article-failure":      "Oups ! Impossible de choisir un article au hasard :(",
		"search-results-page-title":   "Recherche : {{SEARCH_PATTERN}}",
		"suggest-full-text-search":    "contenant '{{SEARCH_TERMS}}'...",
		"suggest-search":              "Faire une recherche plein texte de {{PATTERN}}",
		"too-many-books":              "Trop de livres demandés ({{NB_BOOKS}}), la limite est {{LIMIT}}",
		"url-not-found":               "L'URL demandée « {{URL}} » est introuvable sur ce serveur.",
	},
}

// Translate renders m in lang, falling back to English for unknown
// languages and untranslated ids. An unknown id renders as itself.
func Translate(lang string, m Message) string {
	text, ok := translations[lang][m.ID]
	if !ok {
		if text, ok = translations["en"][m.ID]; !ok {
			return m.ID
		}
	}
	if len(m.Params) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(m.Params))
	for k, v := range m.Params {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
