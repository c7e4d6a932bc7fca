/*
Package unison wires HTTP handlers from descriptors: views declare their
routes, required inputs, permissions and constructor dependencies, and
unison resolves the dependencies once and binds a request pipeline for
every route.

Why?

Explicit wiring: dependencies are declared as tokens and resolved into
singletons before any route is bound.  Missing dependencies are reported
when the routes are registered, not when the first request arrives.

Fresh views: every request gets its own view value, built by the view's
constructor from the shared singletons.  Nothing mutable is shared between
requests unless a dependency chooses to be.

Fixed validation order: required query parameters, headers and body fields
are checked before permissions, and permissions before the view is built.
The first failure ends the request.

# Basics

Declare the injectables, declare the views, then start the app on a
router:

	app := unison.NewApp("example").
		Provide(unison.IdentityFor[*UserStore](), unison.Class[UserStore]()).
		Register(unison.NewView[UserView]("/api/", NewUserView).
			Get("/users", (*UserView).List).
			Post("/users", (*UserView).Create, unison.RequireBody("name")))

	router := mux.NewRouter()
	if _, _, err := app.StartWithMux(router); err != nil {
		log.Fatal(err)
	}

# Identities

An Identity is the key of an injectable.  IdentityFor[T]() derives one from
a type; NamedIdentity distinguishes two injectables of the same type.  A
view's dependencies are the identities of its constructor's parameter
types, in order, unless View.Inject supplies them explicitly.

# Declarations

A Declaration's Use is either a ready value, Class[T]() to have unison
call new(T), or Factory(fn) to have unison call fn.  When two declarations
name the same token the later one wins.

# Pipeline

For each request the pipeline checks, in order:

	query parameters  -> {"success":false,"error":"Missing Query Parameter: <name>"}
	headers           -> {"success":false,"error":"Missing Header Parameter: <name>"}
	body fields       -> {"success":false,"error":"Missing Body Parameter: <name>"}
	permissions       -> the first failing permission's Reject

and then constructs the view and calls the handler.  Failure payloads are
written without setting a status code.  Errors returned by constructors and
handlers go to the dispatcher's ErrorHandler.

*/
package unison
