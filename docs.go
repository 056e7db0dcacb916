// authbridge provides a collection of related packages which enable host
// applications to sign users in through third-party identity providers and
// obtain a normalized user profile and access tokens.  The adapter package
// defines the provider contract, the authcode package implements the generic
// OAuth2 authorization code grant, and the telegram and apple packages
// implement the provider-specific protocols.
//
// See README.md
package authbridge
