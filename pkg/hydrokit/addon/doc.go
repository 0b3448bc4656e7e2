/*
Package addon reads and writes .hydro add-on packages.

A package file is a gzip-compressed YAML document (see Package). At bootstrap
the primary process runs Loader.Expand once: every package in the first
usable root is decoded, checked against the host platform, and written to
<scratch>/<id>/:

	hydro.json       size, version, id, name, description
	locale.json      language tag -> messages
	template.json    template name -> text
	setting.yaml     verbatim from the package
	<section>.lua    lib, service, model, handler, script
	file/, public/   decoded assets

Each package is built in a staging directory and renamed into place, so a
reader never sees a partial tree. Broken packages are skipped, never fatal.
The scan result is written to <scratch>/manifest.json for the host.

Pack and PackDir build package files from a source directory.
*/
package addon
